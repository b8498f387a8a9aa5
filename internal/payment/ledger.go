// Package payment validates payment proofs against the marketplace ledger.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/models"
)

// ErrDatasetNotFound is returned when the ledger has no record of a dataset.
var ErrDatasetNotFound = errors.New("dataset not found in ledger")

// Ledger is the source of truth for payments and dataset records. The
// gateway never inspects payment internals; it only asks the ledger.
type Ledger interface {
	// HasPaid reports whether the payer has purchased access to the dataset.
	HasPaid(ctx context.Context, datasetID, payer string) (bool, error)
	// GetDatasetRecord returns the ledger's record of a registered dataset.
	GetDatasetRecord(ctx context.Context, datasetID string) (*models.DatasetRecord, error)
	// ListDatasets returns all registered datasets, for catalog search.
	ListDatasets(ctx context.Context) ([]*models.DatasetRecord, error)
}

// HTTPLedger talks to a ledger service over HTTP.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPLedger creates a ledger client for the given base URL.
func NewHTTPLedger(baseURL string, logger zerolog.Logger) *HTTPLedger {
	return &HTTPLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With().Str("component", "ledger_client").Logger(),
	}
}

func (l *HTTPLedger) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDatasetNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode ledger response: %w", err)
	}
	return nil
}

// HasPaid asks the ledger whether the payer has purchased the dataset.
func (l *HTTPLedger) HasPaid(ctx context.Context, datasetID, payer string) (bool, error) {
	var out struct {
		Paid bool `json:"paid"`
	}
	path := fmt.Sprintf("/payments?dataset=%s&payer=%s", url.QueryEscape(datasetID), url.QueryEscape(payer))
	if err := l.getJSON(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Paid, nil
}

// GetDatasetRecord fetches one dataset record.
func (l *HTTPLedger) GetDatasetRecord(ctx context.Context, datasetID string) (*models.DatasetRecord, error) {
	var record models.DatasetRecord
	if err := l.getJSON(ctx, "/datasets/"+url.PathEscape(datasetID), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListDatasets fetches the full dataset catalog.
func (l *HTTPLedger) ListDatasets(ctx context.Context) ([]*models.DatasetRecord, error) {
	var out struct {
		Datasets []*models.DatasetRecord `json:"datasets"`
	}
	if err := l.getJSON(ctx, "/datasets", &out); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

// StaticLedger serves a fixed catalog and an explicit set of payments. Used
// for single-node deployments and tests; payments can be pre-seeded or
// every requester can be treated as paid.
type StaticLedger struct {
	mu       sync.RWMutex
	datasets map[string]*models.DatasetRecord
	payments map[string]bool // datasetID + "\x00" + payer
	openAll  bool
}

// NewStaticLedger creates a ledger over the given catalog. When acceptAll is
// true every (dataset, payer) pair with a known dataset counts as paid.
func NewStaticLedger(datasets []*models.DatasetRecord, acceptAll bool) *StaticLedger {
	l := &StaticLedger{
		datasets: make(map[string]*models.DatasetRecord, len(datasets)),
		payments: make(map[string]bool),
		openAll:  acceptAll,
	}
	for _, d := range datasets {
		l.datasets[d.ID] = d
	}
	return l
}

func paymentKey(datasetID, payer string) string {
	return datasetID + "\x00" + payer
}

// RecordPayment marks a (dataset, payer) pair as paid.
func (l *StaticLedger) RecordPayment(datasetID, payer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payments[paymentKey(datasetID, payer)] = true
}

// HasPaid reports whether the payer has a recorded payment for the dataset.
func (l *StaticLedger) HasPaid(_ context.Context, datasetID, payer string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.datasets[datasetID]; !ok {
		return false, nil
	}
	if l.openAll {
		return true, nil
	}
	return l.payments[paymentKey(datasetID, payer)], nil
}

// GetDatasetRecord returns the catalog entry for one dataset.
func (l *StaticLedger) GetDatasetRecord(_ context.Context, datasetID string) (*models.DatasetRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	record, ok := l.datasets[datasetID]
	if !ok {
		return nil, ErrDatasetNotFound
	}
	return record, nil
}

// ListDatasets returns the full catalog.
func (l *StaticLedger) ListDatasets(_ context.Context) ([]*models.DatasetRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*models.DatasetRecord, 0, len(l.datasets))
	for _, d := range l.datasets {
		out = append(out, d)
	}
	return out, nil
}
