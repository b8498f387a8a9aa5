package query

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/models"
)

// Catalog lists the registered datasets a search runs over.
type Catalog interface {
	ListDatasets(ctx context.Context) ([]*models.DatasetRecord, error)
}

// Searcher filters the dataset catalog and records each search for
// statistics.
type Searcher struct {
	catalog  Catalog
	recorder *Recorder
	logger   zerolog.Logger
}

// NewSearcher creates a Searcher over the given catalog.
func NewSearcher(catalog Catalog, recorder *Recorder, logger zerolog.Logger) *Searcher {
	return &Searcher{
		catalog:  catalog,
		recorder: recorder,
		logger:   logger.With().Str("component", "dataset_search").Logger(),
	}
}

// Search applies the filter to the catalog, ordered by quality score
// descending with ID as a stable tiebreaker.
func (s *Searcher) Search(ctx context.Context, filter models.SearchFilter, requester string) (*models.SearchResult, error) {
	start := time.Now()

	datasets, err := s.catalog.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	var filtered []*models.DatasetRecord
	for _, d := range datasets {
		if matches(d, filter) {
			filtered = append(filtered, d)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].QualityScore != filtered[j].QualityScore {
			return filtered[i].QualityScore > filtered[j].QualityScore
		}
		return filtered[i].ID < filtered[j].ID
	})

	total := len(filtered)
	if filter.Offset > 0 {
		if filter.Offset >= len(filtered) {
			filtered = nil
		} else {
			filtered = filtered[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(filtered) {
		filtered = filtered[:filter.Limit]
	}

	result := &models.SearchResult{
		QueryID:         uuid.NewString(),
		Datasets:        filtered,
		TotalResults:    total,
		QueryTimeMillis: time.Since(start).Milliseconds(),
		Recommendations: recommendations(filter, total),
	}

	s.recorder.RecordQuery(&models.DatasetQuery{
		ID:             uuid.New(),
		SearchTerms:    filter.SearchTerms,
		Tags:           filter.Tags,
		Requester:      requester,
		Timestamp:      start,
		DurationMillis: result.QueryTimeMillis,
	})

	return result, nil
}

func matches(d *models.DatasetRecord, f models.SearchFilter) bool {
	if f.Verified != nil && d.Verified != *f.Verified {
		return false
	}
	if f.Format != "" && !strings.EqualFold(d.Format, f.Format) {
		return false
	}
	if f.MinQualityScore > 0 && d.QualityScore < f.MinQualityScore {
		return false
	}
	if f.MaxPriceWei != "" && !priceWithin(d.PriceWei, f.MaxPriceWei) {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(d.Tags, f.Tags) {
		return false
	}
	if f.SearchTerms != "" && !matchesTerms(d, f.SearchTerms) {
		return false
	}
	return true
}

// priceWithin compares wei amounts as big integers; the values routinely
// exceed int64.
func priceWithin(price, maxPrice string) bool {
	p, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return false
	}
	m, ok := new(big.Int).SetString(maxPrice, 10)
	if !ok {
		return true // unparseable ceiling constrains nothing
	}
	return p.Cmp(m) <= 0
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, tag := range have {
		set[strings.ToLower(tag)] = true
	}
	for _, tag := range want {
		if set[strings.ToLower(tag)] {
			return true
		}
	}
	return false
}

func matchesTerms(d *models.DatasetRecord, terms string) bool {
	haystack := strings.ToLower(d.Name + " " + d.Description + " " + strings.Join(d.Tags, " "))
	for _, term := range strings.Fields(strings.ToLower(terms)) {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

// recommendations mirrors the marketplace's guidance strings, keyed off the
// shape of the result set.
func recommendations(f models.SearchFilter, total int) []string {
	var recs []string
	switch {
	case total == 0:
		recs = append(recs,
			"Try broadening your search terms or reducing quality score requirements",
			"Consider exploring related tags or different data formats")
	case total < 5:
		recs = append(recs,
			"Limited results found. You might also be interested in related datasets",
			"Consider setting up alerts for new datasets matching your criteria")
	default:
		recs = append(recs,
			"Multiple relevant datasets found. Consider filtering by recency or quality score",
			"Bundle multiple complementary datasets for comprehensive analysis")
	}
	if f.Format != "" {
		recs = append(recs, fmt.Sprintf("Datasets in %s format are available for immediate use", f.Format))
	}
	return recs
}
