// Package provenance maintains the append-only lifecycle trail of each
// dataset and assembles it into verifiable chains.
package provenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/models"
)

// EventLog is the append-only store of provenance events. Events are never
// updated or deleted.
type EventLog interface {
	Append(ctx context.Context, datasetID string, link models.ProvenanceLink) error
	Events(ctx context.Context, datasetID string) ([]models.ProvenanceLink, error)
}

// Builder produces provenance chains. It is a pluggable strategy: a
// cryptographically verifiable implementation can replace ChainBuilder
// without changing the gateway's contract.
type Builder interface {
	RecordEvent(ctx context.Context, datasetID string, action models.ProvenanceAction, actor string, metadata map[string]string) error
	Chain(ctx context.Context, datasetID string) (*models.ProvenanceChain, error)
}

// ChainBuilder is the default Builder: events are hashed, appended to an
// EventLog and read back in timestamp order.
type ChainBuilder struct {
	log    EventLog
	logger zerolog.Logger
	now    func() time.Time
}

// NewChainBuilder creates a builder over the given event log.
func NewChainBuilder(log EventLog, logger zerolog.Logger) *ChainBuilder {
	return &ChainBuilder{
		log:    log,
		logger: logger.With().Str("component", "provenance").Logger(),
		now:    time.Now,
	}
}

// linkHash derives the event identifier. A nonce keeps two events with
// identical fields distinguishable.
func linkHash(datasetID string, action models.ProvenanceAction, actor string, ts time.Time, nonce string) string {
	sum := sha256.Sum256([]byte(datasetID + "|" + string(action) + "|" + actor + "|" + ts.UTC().Format(time.RFC3339Nano) + "|" + nonce))
	return hex.EncodeToString(sum[:])
}

// RecordEvent appends one lifecycle event to the dataset's trail.
func (b *ChainBuilder) RecordEvent(ctx context.Context, datasetID string, action models.ProvenanceAction, actor string, metadata map[string]string) error {
	if !action.IsValid() {
		return fmt.Errorf("invalid provenance action %q", action)
	}
	ts := b.now()
	link := models.ProvenanceLink{
		Hash:      linkHash(datasetID, action, actor, ts, uuid.NewString()),
		Timestamp: ts,
		Action:    action,
		Actor:     actor,
		Metadata:  metadata,
	}
	if err := b.log.Append(ctx, datasetID, link); err != nil {
		return fmt.Errorf("append provenance event: %w", err)
	}
	return nil
}

// EnsureOrigin records a created link (and a verified link when the dataset
// is marked verified) the first time a dataset is seen. Subsequent calls are
// no-ops.
func (b *ChainBuilder) EnsureOrigin(ctx context.Context, record *models.DatasetRecord) error {
	events, err := b.log.Events(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("read provenance events: %w", err)
	}
	if len(events) > 0 {
		return nil
	}
	meta := map[string]string{"source": "registration"}
	if err := b.RecordEvent(ctx, record.ID, models.ProvenanceCreated, record.Owner, meta); err != nil {
		return err
	}
	if record.Verified {
		vmeta := map[string]string{"quality_score": fmt.Sprintf("%d", record.QualityScore)}
		if err := b.RecordEvent(ctx, record.ID, models.ProvenanceVerified, record.Owner, vmeta); err != nil {
			return err
		}
	}
	return nil
}

// Chain assembles the dataset's trail into a chain ordered by timestamp.
// On any error the chain comes back empty with Verified=false; callers must
// treat that as "do not trust", never as "dataset unverified".
func (b *ChainBuilder) Chain(ctx context.Context, datasetID string) (*models.ProvenanceChain, error) {
	chain := &models.ProvenanceChain{DatasetID: datasetID}

	events, err := b.log.Events(ctx, datasetID)
	if err != nil {
		b.logger.Error().Err(err).Str("dataset_id", datasetID).Msg("provenance chain assembly failed")
		return chain, fmt.Errorf("read provenance events: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	chain.Chain = events
	chain.Verified = len(events) > 0 && events[0].Action == models.ProvenanceCreated
	return chain, nil
}

// MemoryLog is an in-process EventLog.
type MemoryLog struct {
	mu     sync.RWMutex
	events map[string][]models.ProvenanceLink
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{events: make(map[string][]models.ProvenanceLink)}
}

// Append adds one event to the dataset's trail.
func (l *MemoryLog) Append(_ context.Context, datasetID string, link models.ProvenanceLink) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[datasetID] = append(l.events[datasetID], link)
	return nil
}

// Events returns a copy of the dataset's trail.
func (l *MemoryLog) Events(_ context.Context, datasetID string) ([]models.ProvenanceLink, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.events[datasetID]
	out := make([]models.ProvenanceLink, len(events))
	copy(out, events)
	return out, nil
}
