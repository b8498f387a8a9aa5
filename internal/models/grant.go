package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultGrantTTL is the lifetime of a grant when no override is supplied.
const DefaultGrantTTL = 24 * time.Hour

// DefaultMaxDownloads is the download quota applied to new grants.
const DefaultMaxDownloads = 5

// AccessGrant is a server-held capability authorizing one requester to query
// and download one dataset within a time and count budget. The raw access key
// is returned to the caller exactly once at mint time; only its SHA-256 hash
// is retained here.
type AccessGrant struct {
	ID            uuid.UUID `json:"id"`
	KeyHash       string    `json:"-"`
	DatasetID     string    `json:"dataset_id"`
	Requester     string    `json:"requester"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	MaxDownloads  int       `json:"max_downloads"`
	DownloadsUsed int       `json:"downloads_used"`
}

// NewAccessGrant creates a grant for the given dataset and requester.
// ttl and maxDownloads fall back to the package defaults when non-positive.
func NewAccessGrant(keyHash, datasetID, requester string, now time.Time, ttl time.Duration, maxDownloads int) *AccessGrant {
	if ttl == 0 {
		ttl = DefaultGrantTTL
	}
	if maxDownloads <= 0 {
		maxDownloads = DefaultMaxDownloads
	}
	return &AccessGrant{
		ID:            uuid.New(),
		KeyHash:       keyHash,
		DatasetID:     datasetID,
		Requester:     requester,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
		MaxDownloads:  maxDownloads,
		DownloadsUsed: 0,
	}
}

// IsExpired returns true if the grant's lifetime has passed at the given instant.
func (g *AccessGrant) IsExpired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// IsExhausted returns true if the download quota has been fully consumed.
// An exhausted grant is invalid even before it expires.
func (g *AccessGrant) IsExhausted() bool {
	return g.DownloadsUsed >= g.MaxDownloads
}

// Remaining returns the number of downloads left under the quota.
func (g *AccessGrant) Remaining() int {
	if g.DownloadsUsed >= g.MaxDownloads {
		return 0
	}
	return g.MaxDownloads - g.DownloadsUsed
}

// Clone returns a copy of the grant so callers never share the store's instance.
func (g *AccessGrant) Clone() *AccessGrant {
	c := *g
	return &c
}

// GrantResponse is returned from a successful access request. It is the only
// place the raw access key appears.
type GrantResponse struct {
	AccessKey     string    `json:"access_key"`
	DatasetID     string    `json:"dataset_id"`
	Requester     string    `json:"requester"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	MaxDownloads  int       `json:"max_downloads"`
	DownloadsUsed int       `json:"downloads_used"`
}
