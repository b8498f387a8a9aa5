// Package gateway turns payment proofs into time-boxed, quota-limited access
// grants and meters every use of them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/content"
	"github.com/knowledgenet/datagate/internal/metrics"
	"github.com/knowledgenet/datagate/internal/models"
	"github.com/knowledgenet/datagate/internal/payment"
	"github.com/knowledgenet/datagate/internal/provenance"
	"github.com/knowledgenet/datagate/internal/query"
	"github.com/knowledgenet/datagate/internal/token"
)

// PaymentGate validates a payment proof for a (dataset, requester) pair.
type PaymentGate interface {
	Validate(ctx context.Context, datasetID, requester, proof string) error
}

// Config holds the gateway's grant policy.
type Config struct {
	// DefaultTTL is the grant lifetime when the caller supplies no override.
	DefaultTTL time.Duration
	// DefaultMaxDownloads is the download quota applied to new grants.
	DefaultMaxDownloads int
}

// DefaultConfig returns the stock grant policy: 24 hours, 5 downloads.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:          models.DefaultGrantTTL,
		DefaultMaxDownloads: models.DefaultMaxDownloads,
	}
}

// AccessRequest carries the fields of a RequestAccess call.
type AccessRequest struct {
	DatasetID string `json:"dataset_id"`
	Requester string `json:"requester"`
	Proof     string `json:"payment_proof"`
	// TTLOverride replaces the default grant lifetime when non-zero.
	TTLOverride time.Duration `json:"ttl_override,omitempty"`
	// MaxDownloadsOverride replaces the default quota when positive.
	MaxDownloadsOverride int `json:"max_downloads_override,omitempty"`
}

// DownloadResult is everything a successful download returns; it is always
// fully populated or not returned at all.
type DownloadResult struct {
	Data       []byte                  `json:"data"`
	Metadata   *models.DatasetRecord   `json:"metadata"`
	Provenance *models.ProvenanceChain `json:"provenance"`
	Remaining  int                     `json:"downloads_remaining"`
}

// Gateway orchestrates payment validation, grant minting, grant checking,
// content fetches, usage metering and provenance.
type Gateway struct {
	tokens   token.Store
	gate     PaymentGate
	ledger   payment.Ledger
	contents content.Store
	engine   query.Engine
	prov     *provenance.ChainBuilder
	recorder *query.Recorder
	metrics  *metrics.Metrics
	cfg      Config
	logger   zerolog.Logger

	// now is replaceable in tests; every expiry decision goes through it.
	now func() time.Time
}

// New wires up a Gateway.
func New(tokens token.Store, gate PaymentGate, ledger payment.Ledger, contents content.Store,
	engine query.Engine, prov *provenance.ChainBuilder, recorder *query.Recorder,
	m *metrics.Metrics, cfg Config, logger zerolog.Logger) *Gateway {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = models.DefaultGrantTTL
	}
	if cfg.DefaultMaxDownloads <= 0 {
		cfg.DefaultMaxDownloads = models.DefaultMaxDownloads
	}
	return &Gateway{
		tokens:   tokens,
		gate:     gate,
		ledger:   ledger,
		contents: contents,
		engine:   engine,
		prov:     prov,
		recorder: recorder,
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With().Str("component", "access_gateway").Logger(),
		now:      time.Now,
	}
}

// RequestAccess validates the payment proof and mints a new grant. Repeated
// purchases mint additional, distinct grants; the gateway never deduplicates.
// Caller cancellation surfaces as ErrTimeout with no grant left behind.
func (g *Gateway) RequestAccess(ctx context.Context, req AccessRequest) (*models.GrantResponse, error) {
	if req.DatasetID == "" {
		return nil, fmt.Errorf("%w: dataset id required", ErrInvalidRequest)
	}
	if req.Requester == "" {
		return nil, fmt.Errorf("%w: requester required", ErrInvalidRequest)
	}
	if req.Proof == "" {
		g.metrics.PaymentRejections.Inc()
		return nil, fmt.Errorf("%w: payment proof required", ErrPaymentInvalid)
	}

	if err := g.gate.Validate(ctx, req.DatasetID, req.Requester, req.Proof); err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: payment validation: %v", ErrTimeout, err)
		case errors.Is(err, payment.ErrLedgerUnavailable):
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		case errors.Is(err, payment.ErrPaymentInvalid):
			g.metrics.PaymentRejections.Inc()
			return nil, err
		default:
			return nil, err
		}
	}

	record, err := g.ledger.GetDatasetRecord(ctx, req.DatasetID)
	if err != nil {
		if errors.Is(err, payment.ErrDatasetNotFound) {
			return nil, fmt.Errorf("%w: dataset %s", ErrNotFound, req.DatasetID)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	// Seed the dataset's provenance trail on first contact. Best effort:
	// a trail failure must not block a paid-for grant.
	if err := g.prov.EnsureOrigin(ctx, record); err != nil {
		g.logger.Warn().Err(err).Str("dataset_id", req.DatasetID).Msg("failed to seed provenance origin")
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	key, err := token.NewAccessKey()
	if err != nil {
		return nil, fmt.Errorf("mint access key: %w", err)
	}

	ttl := req.TTLOverride
	if ttl == 0 {
		ttl = g.cfg.DefaultTTL
	}
	maxDownloads := req.MaxDownloadsOverride
	if maxDownloads <= 0 {
		maxDownloads = g.cfg.DefaultMaxDownloads
	}

	grant := models.NewAccessGrant(token.HashKey(key), req.DatasetID, req.Requester, g.now(), ttl, maxDownloads)
	if err := g.tokens.Put(ctx, grant); err != nil {
		return nil, fmt.Errorf("store grant: %w", err)
	}

	g.metrics.GrantsIssued.Inc()
	g.metrics.ActiveGrants.Inc()
	g.logger.Info().
		Str("dataset_id", req.DatasetID).
		Str("requester", req.Requester).
		Time("expires_at", grant.ExpiresAt).
		Int("max_downloads", grant.MaxDownloads).
		Msg("access grant issued")

	return &models.GrantResponse{
		AccessKey:     key,
		DatasetID:     grant.DatasetID,
		Requester:     grant.Requester,
		IssuedAt:      grant.IssuedAt,
		ExpiresAt:     grant.ExpiresAt,
		MaxDownloads:  grant.MaxDownloads,
		DownloadsUsed: grant.DownloadsUsed,
	}, nil
}

// checkGrant looks up and validates a grant for the given requester.
// Check order is fixed: existence, identity, expiry, quota.
func (g *Gateway) checkGrant(ctx context.Context, accessKey, requester string) (*models.AccessGrant, error) {
	if !token.IsValidKeyFormat(accessKey) {
		return nil, fmt.Errorf("%w: malformed access key", ErrNotFound)
	}
	grant, found, err := g.tokens.Get(ctx, token.HashKey(accessKey))
	if err != nil {
		return nil, fmt.Errorf("%w: token store: %v", ErrUpstreamUnavailable, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	if grant.Requester != requester {
		return nil, fmt.Errorf("%w: grant issued to another identity", ErrForbidden)
	}
	if grant.IsExpired(g.now()) {
		g.metrics.ExpiryRejections.Inc()
		return nil, fmt.Errorf("%w: at %s", ErrExpired, grant.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if grant.IsExhausted() {
		g.metrics.QuotaRejections.Inc()
		return nil, fmt.Errorf("%w: %d of %d downloads used", ErrQuotaExceeded, grant.DownloadsUsed, grant.MaxDownloads)
	}
	return grant, nil
}

// Query runs the query engine against the dataset behind a valid grant.
// Queries never consume download quota.
func (g *Gateway) Query(ctx context.Context, accessKey, requester, queryText string) (*models.AnalysisResult, error) {
	grant, err := g.checkGrant(ctx, accessKey, requester)
	if err != nil {
		return nil, err
	}

	record, err := g.ledger.GetDatasetRecord(ctx, grant.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	start := g.now()
	result, err := g.engine.Analyze(ctx, record.ContentHash, queryText, record.Tags)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: query engine: %v", ErrUpstreamUnavailable, err)
	}
	result.DatasetID = grant.DatasetID

	g.recorder.RecordQuery(&models.DatasetQuery{
		ID:             uuid.New(),
		DatasetID:      grant.DatasetID,
		SearchTerms:    queryText,
		Tags:           record.Tags,
		Requester:      requester,
		Timestamp:      start,
		DurationMillis: result.QueryTimeMillis,
	})
	g.metrics.QueriesServed.Inc()

	return result, nil
}

// Download serves the dataset bytes under a valid grant and consumes one
// download from its quota. The quota check-and-increment is atomic in the
// token store, so concurrent downloads on the last slot yield exactly one
// success.
func (g *Gateway) Download(ctx context.Context, accessKey, requester string) (*DownloadResult, error) {
	grant, err := g.checkGrant(ctx, accessKey, requester)
	if err != nil {
		return nil, err
	}

	record, err := g.ledger.GetDatasetRecord(ctx, grant.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	// Fetch before consuming quota: a failed fetch must not burn a slot.
	// The fetch is an idempotent read, so one retry is safe.
	data, err := g.fetchContent(ctx, record.ContentHash)
	if err != nil {
		return nil, err
	}

	newCount, err := g.tokens.IncrementUsage(ctx, grant.KeyHash)
	if err != nil {
		if errors.Is(err, token.ErrQuotaExceeded) {
			g.metrics.QuotaRejections.Inc()
		}
		return nil, err
	}

	// Usage is committed past this point. Provenance is best effort: an
	// unverifiable chain is reported as such, never a failed download.
	if err := g.prov.RecordEvent(ctx, grant.DatasetID, models.ProvenanceAccessed, requester,
		map[string]string{"access_type": "download", "grant_id": grant.ID.String()}); err != nil {
		g.logger.Warn().Err(err).Str("dataset_id", grant.DatasetID).Msg("failed to record access event")
	}
	chain, err := g.prov.Chain(ctx, grant.DatasetID)
	if err != nil {
		g.logger.Warn().Err(err).Str("dataset_id", grant.DatasetID).Msg("provenance chain unavailable")
	}

	g.recorder.RecordDownload(requester, grant.DatasetID, g.now())
	g.metrics.DownloadsServed.Inc()
	g.logger.Info().
		Str("dataset_id", grant.DatasetID).
		Str("requester", requester).
		Int("downloads_used", newCount).
		Int("max_downloads", grant.MaxDownloads).
		Msg("dataset download served")

	return &DownloadResult{
		Data:       data,
		Metadata:   record,
		Provenance: chain,
		Remaining:  grant.MaxDownloads - newCount,
	}, nil
}

// fetchContent reads the blob, retrying once on upstream failure.
func (g *Gateway) fetchContent(ctx context.Context, contentHash string) ([]byte, error) {
	data, err := g.contents.Fetch(ctx, contentHash)
	if errors.Is(err, content.ErrUnavailable) {
		g.logger.Warn().Err(err).Str("content_hash", contentHash).Msg("content fetch failed, retrying once")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
		data, err = g.contents.Fetch(ctx, contentHash)
	}
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return nil, fmt.Errorf("%w: content %s", ErrNotFound, contentHash)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return data, nil
}

// RevokeGrant destroys a grant early. Revoking an absent key succeeds.
func (g *Gateway) RevokeGrant(ctx context.Context, accessKey string) error {
	if !token.IsValidKeyFormat(accessKey) {
		return nil
	}
	keyHash := token.HashKey(accessKey)
	_, found, err := g.tokens.Get(ctx, keyHash)
	if err != nil {
		return fmt.Errorf("%w: token store: %v", ErrUpstreamUnavailable, err)
	}
	if err := g.tokens.Delete(ctx, keyHash); err != nil {
		return fmt.Errorf("%w: token store: %v", ErrUpstreamUnavailable, err)
	}
	if found {
		g.metrics.GrantsRevoked.Inc()
		g.metrics.ActiveGrants.Dec()
		g.logger.Info().Msg("access grant revoked")
	}
	return nil
}

// GenerateProvenanceChain returns the dataset's audit trail.
func (g *Gateway) GenerateProvenanceChain(ctx context.Context, datasetID string) (*models.ProvenanceChain, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("%w: dataset id required", ErrInvalidRequest)
	}
	chain, err := g.prov.Chain(ctx, datasetID)
	if err != nil {
		// The empty unverified chain is the contract's error value; callers
		// must treat Verified=false as "do not trust this chain".
		g.logger.Warn().Err(err).Str("dataset_id", datasetID).Msg("provenance chain assembly failed")
	}
	return chain, nil
}

// ValidateIntegrity recomputes the dataset's content hash and checks it
// against the expected value.
func (g *Gateway) ValidateIntegrity(ctx context.Context, datasetID, expectedHash string) (*models.IntegrityReport, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("%w: dataset id required", ErrInvalidRequest)
	}
	record, err := g.ledger.GetDatasetRecord(ctx, datasetID)
	if err != nil {
		if errors.Is(err, payment.ErrDatasetNotFound) {
			return nil, fmt.Errorf("%w: dataset %s", ErrNotFound, datasetID)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	data, err := g.fetchContent(ctx, record.ContentHash)
	if err != nil {
		return nil, err
	}

	actual := g.contents.Hash(data)
	chain, _ := g.prov.Chain(ctx, datasetID)

	return &models.IntegrityReport{
		DatasetID:          datasetID,
		Valid:              actual == expectedHash,
		ActualHash:         actual,
		ProvenanceVerified: chain != nil && chain.Verified,
	}, nil
}

// UsageStats returns the requester's recorded activity.
func (g *Gateway) UsageStats(_ context.Context, requester string) (*models.UsageStats, error) {
	if requester == "" {
		return nil, fmt.Errorf("%w: requester required", ErrInvalidRequest)
	}
	return g.recorder.Stats(requester), nil
}
