package models

import "time"

// ProvenanceAction identifies a lifecycle event in a dataset's audit trail.
type ProvenanceAction string

const (
	ProvenanceCreated  ProvenanceAction = "created"
	ProvenanceModified ProvenanceAction = "modified"
	ProvenanceVerified ProvenanceAction = "verified"
	ProvenanceAccessed ProvenanceAction = "accessed"
)

// IsValid reports whether the action is one of the known lifecycle events.
func (a ProvenanceAction) IsValid() bool {
	switch a {
	case ProvenanceCreated, ProvenanceModified, ProvenanceVerified, ProvenanceAccessed:
		return true
	}
	return false
}

// ProvenanceLink is one event in a dataset's provenance chain.
type ProvenanceLink struct {
	Hash      string            `json:"hash"`
	Timestamp time.Time         `json:"timestamp"`
	Action    ProvenanceAction  `json:"action"`
	Actor     string            `json:"actor"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ProvenanceChain is the ordered audit trail for one dataset. Verified is
// true only when the chain was assembled without error and opens with a
// created link; a false value means "do not trust this chain", not
// "dataset unverified".
type ProvenanceChain struct {
	DatasetID string           `json:"dataset_id"`
	Chain     []ProvenanceLink `json:"chain"`
	Verified  bool             `json:"verified"`
}
