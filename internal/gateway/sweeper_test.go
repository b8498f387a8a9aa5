package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/metrics"
	"github.com/knowledgenet/datagate/internal/models"
	"github.com/knowledgenet/datagate/internal/token"
)

func seedGrant(t *testing.T, store *token.MemoryStore, issuedAt time.Time, ttl time.Duration) *models.AccessGrant {
	t.Helper()
	key, err := token.NewAccessKey()
	if err != nil {
		t.Fatalf("mint key: %v", err)
	}
	grant := models.NewAccessGrant(token.HashKey(key), "ds-1", "0xabc", issuedAt, ttl, 5)
	if err := store.Put(context.Background(), grant); err != nil {
		t.Fatalf("put grant: %v", err)
	}
	return grant
}

func TestSweepOnce_EvictsOnlyExpired(t *testing.T) {
	store := token.NewMemoryStore()
	base := time.Now()

	expired := seedGrant(t, store, base.Add(-48*time.Hour), 24*time.Hour)
	live := seedGrant(t, store, base, 24*time.Hour)

	sw := NewSweeper(store, time.Hour, metrics.New(), zerolog.Nop())

	evicted, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}

	_, found, err := store.Get(context.Background(), expired.KeyHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Error("expired grant survived the sweep")
	}
	_, found, err = store.Get(context.Background(), live.KeyHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Error("live grant was evicted")
	}
}

func TestSweepOnce_ClockAdvance(t *testing.T) {
	store := token.NewMemoryStore()
	grant := seedGrant(t, store, time.Now(), 24*time.Hour)

	sw := NewSweeper(store, time.Hour, metrics.New(), zerolog.Nop())

	// Still inside the TTL: nothing to do.
	evicted, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if evicted != 0 {
		t.Fatalf("expected no evictions before expiry, got %d", evicted)
	}

	sw.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	evicted, err = sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("expected 1 eviction after expiry, got %d", evicted)
	}

	_, found, err := store.Get(context.Background(), grant.KeyHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Error("grant still present after eviction")
	}
}

func TestSweeper_StartStop(t *testing.T) {
	store := token.NewMemoryStore()
	sw := NewSweeper(store, time.Hour, metrics.New(), zerolog.Nop())

	if err := sw.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sw.Start(); err == nil {
		t.Error("second start must fail while running")
	}

	done := sw.Stop()
	select {
	case <-done.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not drain in time")
	}

	// A stopped sweeper's Stop is safe to call again.
	done = sw.Stop()
	select {
	case <-done.Done():
	default:
		t.Error("stop on a stopped sweeper must return a done context")
	}
}
