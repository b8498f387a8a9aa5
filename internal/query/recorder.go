package query

import (
	"sort"
	"sync"
	"time"

	"github.com/knowledgenet/datagate/internal/models"
)

// Recorder keeps the immutable audit records of queries and downloads and
// aggregates them into per-requester statistics. Records are append-only;
// archival of old records is an external concern.
type Recorder struct {
	mu        sync.RWMutex
	queries   []*models.DatasetQuery
	downloads map[string][]downloadRecord // requester -> downloads
}

type downloadRecord struct {
	datasetID string
	at        time.Time
}

// NewRecorder creates an empty usage recorder.
func NewRecorder() *Recorder {
	return &Recorder{downloads: make(map[string][]downloadRecord)}
}

// RecordQuery appends one query record.
func (r *Recorder) RecordQuery(q *models.DatasetQuery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
}

// RecordDownload appends one download record.
func (r *Recorder) RecordDownload(requester, datasetID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads[requester] = append(r.downloads[requester], downloadRecord{datasetID: datasetID, at: at})
}

// Stats aggregates the requester's recorded activity.
func (r *Recorder) Stats(requester string) *models.UsageStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &models.UsageStats{Requester: requester}

	var totalQueryMillis int64
	for _, q := range r.queries {
		if q.Requester != requester {
			continue
		}
		stats.TotalQueries++
		totalQueryMillis += q.DurationMillis
	}
	if stats.TotalQueries > 0 {
		stats.AverageQueryTimeMS = totalQueryMillis / int64(stats.TotalQueries)
	}

	seen := make(map[string]bool)
	for _, d := range r.downloads[requester] {
		stats.TotalDownloads++
		if !seen[d.datasetID] {
			seen[d.datasetID] = true
			stats.DatasetsAccessed = append(stats.DatasetsAccessed, d.datasetID)
		}
	}
	sort.Strings(stats.DatasetsAccessed)

	return stats
}
