package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAccessGrant_Expiry(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	grant := NewAccessGrant("hash", "ds-1", "0xabc", issued, 24*time.Hour, 5)

	if grant.IsExpired(issued) {
		t.Error("grant must be live at issue time")
	}
	if grant.IsExpired(issued.Add(24*time.Hour - time.Second)) {
		t.Error("grant must be live just before expiry")
	}
	if !grant.IsExpired(issued.Add(24*time.Hour + time.Second)) {
		t.Error("grant must be expired after the TTL")
	}
}

func TestAccessGrant_Quota(t *testing.T) {
	grant := NewAccessGrant("hash", "ds-1", "0xabc", time.Now(), time.Hour, 2)

	if grant.IsExhausted() {
		t.Error("fresh grant must not be exhausted")
	}
	if got := grant.Remaining(); got != 2 {
		t.Errorf("expected 2 remaining, got %d", got)
	}

	grant.DownloadsUsed = 2
	if !grant.IsExhausted() {
		t.Error("grant at quota must be exhausted")
	}
	if got := grant.Remaining(); got != 0 {
		t.Errorf("expected 0 remaining, got %d", got)
	}
}

func TestAccessGrant_Clone(t *testing.T) {
	grant := NewAccessGrant("hash", "ds-1", "0xabc", time.Now(), time.Hour, 5)
	clone := grant.Clone()

	clone.DownloadsUsed = 3
	if grant.DownloadsUsed != 0 {
		t.Error("mutating a clone must not touch the original")
	}
}

func TestAccessGrant_KeyHashNeverSerialized(t *testing.T) {
	grant := NewAccessGrant("supersecret-hash", "ds-1", "0xabc", time.Now(), time.Hour, 5)

	data, err := json.Marshal(grant)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "supersecret-hash") {
		t.Error("key hash must not appear in serialized grants")
	}
}

func TestDefaultGrantPolicy(t *testing.T) {
	if DefaultGrantTTL != 24*time.Hour {
		t.Errorf("unexpected default TTL %v", DefaultGrantTTL)
	}
	if DefaultMaxDownloads != 5 {
		t.Errorf("unexpected default quota %d", DefaultMaxDownloads)
	}
}
