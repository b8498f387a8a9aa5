package provenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/models"
)

// failingLog implements EventLog and fails every call.
type failingLog struct{}

func (failingLog) Append(_ context.Context, _ string, _ models.ProvenanceLink) error {
	return errors.New("disk full")
}

func (failingLog) Events(_ context.Context, _ string) ([]models.ProvenanceLink, error) {
	return nil, errors.New("disk full")
}

func TestChainBuilder_RecordAndChain(t *testing.T) {
	ctx := context.Background()
	b := NewChainBuilder(NewMemoryLog(), zerolog.Nop())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	b.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	if err := b.RecordEvent(ctx, "ds-1", models.ProvenanceCreated, "0xowner", nil); err != nil {
		t.Fatalf("record created: %v", err)
	}
	if err := b.RecordEvent(ctx, "ds-1", models.ProvenanceVerified, "0xvalidator", map[string]string{"quality_score": "85"}); err != nil {
		t.Fatalf("record verified: %v", err)
	}
	if err := b.RecordEvent(ctx, "ds-1", models.ProvenanceAccessed, "0xmodel", nil); err != nil {
		t.Fatalf("record accessed: %v", err)
	}

	chain, err := b.Chain(ctx, "ds-1")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if !chain.Verified {
		t.Error("expected verified chain")
	}
	if len(chain.Chain) != 3 {
		t.Fatalf("expected 3 links, got %d", len(chain.Chain))
	}
	if chain.Chain[0].Action != models.ProvenanceCreated {
		t.Errorf("expected created link first, got %s", chain.Chain[0].Action)
	}
	for i := 1; i < len(chain.Chain); i++ {
		if chain.Chain[i].Timestamp.Before(chain.Chain[i-1].Timestamp) {
			t.Errorf("link %d timestamp precedes link %d", i, i-1)
		}
	}
	seen := make(map[string]bool)
	for _, link := range chain.Chain {
		if link.Hash == "" {
			t.Error("empty link hash")
		}
		if seen[link.Hash] {
			t.Errorf("duplicate link hash %s", link.Hash)
		}
		seen[link.Hash] = true
	}
}

func TestChainBuilder_ChainWithoutCreatedLink(t *testing.T) {
	ctx := context.Background()
	b := NewChainBuilder(NewMemoryLog(), zerolog.Nop())

	if err := b.RecordEvent(ctx, "ds-1", models.ProvenanceAccessed, "0xmodel", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	chain, err := b.Chain(ctx, "ds-1")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if chain.Verified {
		t.Error("chain without a created link at index 0 must not verify")
	}
}

func TestChainBuilder_ChainEmptyDataset(t *testing.T) {
	b := NewChainBuilder(NewMemoryLog(), zerolog.Nop())

	chain, err := b.Chain(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if chain.Verified || len(chain.Chain) != 0 {
		t.Errorf("expected empty unverified chain, got verified=%v links=%d", chain.Verified, len(chain.Chain))
	}
}

func TestChainBuilder_ChainLogError(t *testing.T) {
	b := NewChainBuilder(failingLog{}, zerolog.Nop())

	chain, err := b.Chain(context.Background(), "ds-1")
	if err == nil {
		t.Fatal("expected error from failing log")
	}
	if chain == nil || chain.Verified || len(chain.Chain) != 0 {
		t.Error("error path must return an empty unverified chain")
	}
}

func TestChainBuilder_RecordInvalidAction(t *testing.T) {
	b := NewChainBuilder(NewMemoryLog(), zerolog.Nop())
	if err := b.RecordEvent(context.Background(), "ds-1", "destroyed", "0x", nil); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestChainBuilder_EnsureOrigin(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	b := NewChainBuilder(log, zerolog.Nop())

	record := &models.DatasetRecord{ID: "ds-1", Owner: "0xowner", Verified: true, QualityScore: 90}
	if err := b.EnsureOrigin(ctx, record); err != nil {
		t.Fatalf("ensure origin: %v", err)
	}

	events, err := log.Events(ctx, "ds-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected created+verified, got %d events", len(events))
	}
	if events[0].Action != models.ProvenanceCreated || events[1].Action != models.ProvenanceVerified {
		t.Errorf("unexpected actions %s, %s", events[0].Action, events[1].Action)
	}

	// Second call must not duplicate the origin.
	if err := b.EnsureOrigin(ctx, record); err != nil {
		t.Fatalf("ensure origin again: %v", err)
	}
	events, _ = log.Events(ctx, "ds-1")
	if len(events) != 2 {
		t.Errorf("origin recorded twice: %d events", len(events))
	}
}

func TestSQLiteLog_AppendAndEvents(t *testing.T) {
	dir := t.TempDir()
	log, err := NewSQLiteLog(dir+"/provenance.db", zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite log: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	links := []models.ProvenanceLink{
		{Hash: "h1", Timestamp: base, Action: models.ProvenanceCreated, Actor: "0xowner", Metadata: map[string]string{"source": "registration"}},
		{Hash: "h2", Timestamp: base.Add(time.Hour), Action: models.ProvenanceVerified, Actor: "0xvalidator"},
		{Hash: "h3", Timestamp: base.Add(2 * time.Hour), Action: models.ProvenanceAccessed, Actor: "0xmodel"},
	}
	for _, link := range links {
		if err := log.Append(ctx, "ds-1", link); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// Another dataset's events must not bleed in.
	if err := log.Append(ctx, "ds-2", models.ProvenanceLink{Hash: "x", Timestamp: base, Action: models.ProvenanceCreated, Actor: "0x"}); err != nil {
		t.Fatalf("append other dataset: %v", err)
	}

	events, err := log.Events(ctx, "ds-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range links {
		if events[i].Hash != want.Hash || events[i].Action != want.Action || events[i].Actor != want.Actor {
			t.Errorf("event %d mismatch: got %+v", i, events[i])
		}
		if !events[i].Timestamp.Equal(want.Timestamp) {
			t.Errorf("event %d timestamp mismatch: got %v want %v", i, events[i].Timestamp, want.Timestamp)
		}
	}
	if events[0].Metadata["source"] != "registration" {
		t.Errorf("metadata not preserved: %+v", events[0].Metadata)
	}
}
