// Package token holds access grants and enforces their download quota.
package token

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/knowledgenet/datagate/internal/models"
)

var (
	// ErrNotFound is returned when no grant exists for an access key.
	ErrNotFound = errors.New("access grant not found")
	// ErrQuotaExceeded is returned when a grant's download quota is exhausted.
	ErrQuotaExceeded = errors.New("download quota exceeded")
)

// Store is the mapping from access-key hash to grant. Implementations must
// make IncrementUsage atomic: the quota check and the increment happen in the
// same critical section, so the stored count never exceeds the cap.
type Store interface {
	// Put stores a grant keyed by its KeyHash.
	Put(ctx context.Context, grant *models.AccessGrant) error
	// Get returns a copy of the grant for the given key hash.
	Get(ctx context.Context, keyHash string) (*models.AccessGrant, bool, error)
	// IncrementUsage consumes one download from the grant's quota and returns
	// the new count. Fails with ErrQuotaExceeded rather than ever writing
	// DownloadsUsed > MaxDownloads, and with ErrNotFound for unknown keys.
	IncrementUsage(ctx context.Context, keyHash string) (int, error)
	// Delete removes a grant. Deleting an absent key is not an error.
	Delete(ctx context.Context, keyHash string) error
	// Scan visits a snapshot of all grants. Returning false stops the scan.
	// The lock is never held while fn runs.
	Scan(ctx context.Context, fn func(grant *models.AccessGrant) bool) error
}

const shardCount = 16

// MemoryStore is an in-process Store sharded by key hash. Locking is per
// shard so a sweep or a burst of unrelated requests never serializes behind
// a single global mutex.
type MemoryStore struct {
	shards [shardCount]*shard
}

type shard struct {
	mu     sync.RWMutex
	grants map[string]*models.AccessGrant
}

// NewMemoryStore creates an empty in-memory grant store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{grants: make(map[string]*models.AccessGrant)}
	}
	return s
}

func (s *MemoryStore) shardFor(keyHash string) *shard {
	h := fnv.New32a()
	h.Write([]byte(keyHash))
	return s.shards[h.Sum32()%shardCount]
}

// Put stores a grant keyed by its KeyHash.
func (s *MemoryStore) Put(_ context.Context, grant *models.AccessGrant) error {
	sh := s.shardFor(grant.KeyHash)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.grants[grant.KeyHash] = grant.Clone()
	return nil
}

// Get returns a copy of the grant for the given key hash.
func (s *MemoryStore) Get(_ context.Context, keyHash string) (*models.AccessGrant, bool, error) {
	sh := s.shardFor(keyHash)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	grant, ok := sh.grants[keyHash]
	if !ok {
		return nil, false, nil
	}
	return grant.Clone(), true, nil
}

// IncrementUsage consumes one download from the grant's quota.
func (s *MemoryStore) IncrementUsage(_ context.Context, keyHash string) (int, error) {
	sh := s.shardFor(keyHash)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	grant, ok := sh.grants[keyHash]
	if !ok {
		return 0, ErrNotFound
	}
	if grant.DownloadsUsed >= grant.MaxDownloads {
		return grant.DownloadsUsed, ErrQuotaExceeded
	}
	grant.DownloadsUsed++
	return grant.DownloadsUsed, nil
}

// Delete removes a grant. Idempotent.
func (s *MemoryStore) Delete(_ context.Context, keyHash string) error {
	sh := s.shardFor(keyHash)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.grants, keyHash)
	return nil
}

// Scan visits a snapshot of all grants, one shard at a time.
func (s *MemoryStore) Scan(ctx context.Context, fn func(grant *models.AccessGrant) bool) error {
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		sh.mu.RLock()
		snapshot := make([]*models.AccessGrant, 0, len(sh.grants))
		for _, grant := range sh.grants {
			snapshot = append(snapshot, grant.Clone())
		}
		sh.mu.RUnlock()
		for _, grant := range snapshot {
			if !fn(grant) {
				return nil
			}
		}
	}
	return nil
}

// Count returns the number of stored grants.
func (s *MemoryStore) Count() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.grants)
		sh.mu.RUnlock()
	}
	return total
}
