package models

import (
	"time"

	"github.com/google/uuid"
)

// DatasetQuery is the audit record of one query or search call. Records are
// immutable once created and retained for statistics only.
type DatasetQuery struct {
	ID             uuid.UUID `json:"id"`
	DatasetID      string    `json:"dataset_id,omitempty"`
	SearchTerms    string    `json:"search_terms,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Requester      string    `json:"requester"`
	Timestamp      time.Time `json:"timestamp"`
	DurationMillis int64     `json:"duration_ms"`
}

// AnalysisResult is the query engine's answer for a single dataset query.
type AnalysisResult struct {
	DatasetID       string   `json:"dataset_id"`
	Query           string   `json:"query"`
	Summary         string   `json:"summary"`
	MatchedTags     []string `json:"matched_tags,omitempty"`
	QueryTimeMillis int64    `json:"query_time_ms"`
}

// UsageStats aggregates a requester's recorded activity.
type UsageStats struct {
	Requester          string   `json:"requester"`
	TotalQueries       int      `json:"total_queries"`
	TotalDownloads     int      `json:"total_downloads"`
	DatasetsAccessed   []string `json:"datasets_accessed"`
	AverageQueryTimeMS int64    `json:"average_query_time_ms"`
}
