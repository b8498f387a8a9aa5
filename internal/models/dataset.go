package models

import "time"

// DatasetRecord is the marketplace's view of a registered dataset, read
// through the payment ledger. The gateway never mutates it.
type DatasetRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Owner        string    `json:"owner"`
	PriceWei     string    `json:"price_wei"`
	ContentHash  string    `json:"content_hash"`
	Tags         []string  `json:"tags,omitempty"`
	Format       string    `json:"format,omitempty"`
	SizeBytes    int64     `json:"size_bytes,omitempty"`
	QualityScore int       `json:"quality_score"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// SearchFilter narrows a dataset search. Zero values mean "no constraint".
type SearchFilter struct {
	SearchTerms     string   `json:"search_terms,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Format          string   `json:"format,omitempty"`
	MinQualityScore int      `json:"min_quality_score,omitempty"`
	MaxPriceWei     string   `json:"max_price_wei,omitempty"`
	Verified        *bool    `json:"verified,omitempty"`
	Limit           int      `json:"limit,omitempty"`
	Offset          int      `json:"offset,omitempty"`
}

// SearchResult is the response to a dataset search.
type SearchResult struct {
	QueryID         string           `json:"query_id"`
	Datasets        []*DatasetRecord `json:"datasets"`
	TotalResults    int              `json:"total_results"`
	QueryTimeMillis int64            `json:"query_time_ms"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// IntegrityReport is the result of validating a dataset's content hash.
type IntegrityReport struct {
	DatasetID          string `json:"dataset_id"`
	Valid              bool   `json:"valid"`
	ActualHash         string `json:"actual_hash"`
	ProvenanceVerified bool   `json:"provenance_verified"`
}
