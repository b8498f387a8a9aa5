package content

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_PutFetch(t *testing.T) {
	store := NewMemoryStore()
	data := []byte(`{"rows": [1, 2, 3]}`)

	hash := store.Put(data)
	if hash != HashBytes(data) {
		t.Fatalf("Put returned wrong hash: %s", hash)
	}

	got, err := store.Fetch(context.Background(), hash)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("fetched bytes differ: %q", got)
	}

	// The returned slice is a copy.
	got[0] = 'X'
	again, _ := store.Fetch(context.Background(), hash)
	if string(again) != string(data) {
		t.Error("mutating a fetched blob changed the stored bytes")
	}
}

func TestMemoryStore_FetchMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Fetch(context.Background(), "deadbeef")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHashBytes_Deterministic(t *testing.T) {
	a := HashBytes([]byte("payload"))
	b := HashBytes([]byte("payload"))
	c := HashBytes([]byte("other"))
	if a != b {
		t.Error("same bytes must hash identically")
	}
	if a == c {
		t.Error("different bytes must hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestS3Config_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     S3Config
		wantErr bool
	}{
		{"valid", S3Config{Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"}, false},
		{"missing bucket", S3Config{AccessKeyID: "k", SecretAccessKey: "s"}, true},
		{"missing key", S3Config{Bucket: "b", SecretAccessKey: "s"}, true},
		{"missing secret", S3Config{Bucket: "b", AccessKeyID: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
