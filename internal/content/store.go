// Package content provides content-addressed access to raw dataset bytes.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned when no blob exists for a content hash.
	ErrNotFound = errors.New("content not found")
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("content store unavailable")
)

// Store is a content-addressed blob store.
type Store interface {
	// Fetch returns the bytes stored under the given content hash.
	Fetch(ctx context.Context, contentHash string) ([]byte, error)
	// Hash computes the content hash for a blob.
	Hash(data []byte) string
}

// HashBytes is the canonical content hash: hex-encoded SHA-256.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryStore is an in-process Store for single-node deployments and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory content store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores a blob and returns its content hash.
func (s *MemoryStore) Put(data []byte) string {
	hash := HashBytes(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[hash] = buf
	return hash
}

// Fetch returns the blob for the given content hash.
func (s *MemoryStore) Fetch(_ context.Context, contentHash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[contentHash]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Hash computes the content hash for a blob.
func (s *MemoryStore) Hash(data []byte) string {
	return HashBytes(data)
}
