package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/content"
	"github.com/knowledgenet/datagate/internal/metrics"
	"github.com/knowledgenet/datagate/internal/models"
	"github.com/knowledgenet/datagate/internal/payment"
	"github.com/knowledgenet/datagate/internal/provenance"
	"github.com/knowledgenet/datagate/internal/query"
	"github.com/knowledgenet/datagate/internal/token"
)

// mockGate implements PaymentGate.
type mockGate struct {
	mu      sync.Mutex
	err     error
	blockFn func(ctx context.Context) error
	calls   int
}

func (m *mockGate) Validate(ctx context.Context, _, _, proof string) error {
	m.mu.Lock()
	m.calls++
	blockFn := m.blockFn
	err := m.err
	m.mu.Unlock()
	if proof == "" {
		return payment.ErrPaymentInvalid
	}
	if blockFn != nil {
		return blockFn(ctx)
	}
	return err
}

type env struct {
	gw       *Gateway
	tokens   *token.MemoryStore
	gate     *mockGate
	ledger   *payment.StaticLedger
	contents *content.MemoryStore
	provLog  *provenance.MemoryLog
	recorder *query.Recorder
	payload  []byte
	record   *models.DatasetRecord
}

func newEnv(t *testing.T) *env {
	t.Helper()

	contents := content.NewMemoryStore()
	payload := []byte(`{"rows":[{"t":21.5},{"t":22.1}]}`)
	hash := contents.Put(payload)

	record := &models.DatasetRecord{
		ID:           "ds-climate",
		Name:         "Climate Observations",
		Owner:        "0xowner",
		PriceWei:     "1000000000000000000",
		ContentHash:  hash,
		Tags:         []string{"climate", "weather"},
		Format:       "json",
		QualityScore: 92,
		Verified:     true,
	}

	tokens := token.NewMemoryStore()
	gate := &mockGate{}
	ledger := payment.NewStaticLedger([]*models.DatasetRecord{record}, true)
	provLog := provenance.NewMemoryLog()
	recorder := query.NewRecorder()

	gw := New(tokens, gate, ledger, contents, query.NewTagEngine(),
		provenance.NewChainBuilder(provLog, zerolog.Nop()), recorder,
		metrics.New(), DefaultConfig(), zerolog.Nop())

	return &env{
		gw:       gw,
		tokens:   tokens,
		gate:     gate,
		ledger:   ledger,
		contents: contents,
		provLog:  provLog,
		recorder: recorder,
		payload:  payload,
		record:   record,
	}
}

func (e *env) mintGrant(t *testing.T, req AccessRequest) *models.GrantResponse {
	t.Helper()
	if req.DatasetID == "" {
		req.DatasetID = "ds-climate"
	}
	if req.Requester == "" {
		req.Requester = "0xabc"
	}
	if req.Proof == "" {
		req.Proof = "proof-0xdeadbeef"
	}
	resp, err := e.gw.RequestAccess(context.Background(), req)
	if err != nil {
		t.Fatalf("request access: %v", err)
	}
	return resp
}

func TestRequestAccess_MintsDistinctGrants(t *testing.T) {
	e := newEnv(t)

	first := e.mintGrant(t, AccessRequest{})
	second := e.mintGrant(t, AccessRequest{})

	if first.AccessKey == second.AccessKey {
		t.Error("repeated purchases must mint distinct grants")
	}
	if e.tokens.Count() != 2 {
		t.Errorf("expected 2 stored grants, got %d", e.tokens.Count())
	}
	if first.MaxDownloads != models.DefaultMaxDownloads {
		t.Errorf("expected default quota %d, got %d", models.DefaultMaxDownloads, first.MaxDownloads)
	}
	if got := first.ExpiresAt.Sub(first.IssuedAt); got != models.DefaultGrantTTL {
		t.Errorf("expected default TTL %v, got %v", models.DefaultGrantTTL, got)
	}
}

func TestRequestAccess_EmptyProof(t *testing.T) {
	e := newEnv(t)

	_, err := e.gw.RequestAccess(context.Background(), AccessRequest{
		DatasetID: "ds-climate", Requester: "0xabc", Proof: "",
	})
	if !errors.Is(err, ErrPaymentInvalid) {
		t.Fatalf("expected ErrPaymentInvalid, got %v", err)
	}
	if e.tokens.Count() != 0 {
		t.Errorf("no grant must be created on rejection, store has %d", e.tokens.Count())
	}
}

func TestRequestAccess_MissingFields(t *testing.T) {
	e := newEnv(t)

	_, err := e.gw.RequestAccess(context.Background(), AccessRequest{Requester: "0xabc", Proof: "p-12345678"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing dataset, got %v", err)
	}
	_, err = e.gw.RequestAccess(context.Background(), AccessRequest{DatasetID: "ds-climate", Proof: "p-12345678"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing requester, got %v", err)
	}
}

func TestRequestAccess_PaymentDeclined(t *testing.T) {
	e := newEnv(t)
	e.gate.err = payment.ErrPaymentInvalid

	_, err := e.gw.RequestAccess(context.Background(), AccessRequest{
		DatasetID: "ds-climate", Requester: "0xabc", Proof: "proof-0xdeadbeef",
	})
	if !errors.Is(err, ErrPaymentInvalid) {
		t.Fatalf("expected ErrPaymentInvalid, got %v", err)
	}
	if e.tokens.Count() != 0 {
		t.Error("declined payment must not leave a grant behind")
	}
}

func TestRequestAccess_LedgerDown(t *testing.T) {
	e := newEnv(t)
	e.gate.err = payment.ErrLedgerUnavailable

	_, err := e.gw.RequestAccess(context.Background(), AccessRequest{
		DatasetID: "ds-climate", Requester: "0xabc", Proof: "proof-0xdeadbeef",
	})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestRequestAccess_CanceledContext(t *testing.T) {
	e := newEnv(t)
	e.gate.blockFn = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.gw.RequestAccess(ctx, AccessRequest{
		DatasetID: "ds-climate", Requester: "0xabc", Proof: "proof-0xdeadbeef",
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if e.tokens.Count() != 0 {
		t.Error("a timed-out request must not leave an orphan grant")
	}
}

func TestRequestAccess_UnknownDataset(t *testing.T) {
	e := newEnv(t)

	_, err := e.gw.RequestAccess(context.Background(), AccessRequest{
		DatasetID: "no-such", Requester: "0xabc", Proof: "proof-0xdeadbeef",
	})
	// The open-catalog ledger reports unknown datasets as unpaid.
	if !errors.Is(err, ErrPaymentInvalid) && !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected payment or not-found rejection, got %v", err)
	}
}

func TestQuery_DoesNotConsumeQuota(t *testing.T) {
	e := newEnv(t)
	grant := e.mintGrant(t, AccessRequest{})

	for i := 0; i < 10; i++ {
		result, err := e.gw.Query(context.Background(), grant.AccessKey, "0xabc", "climate trends")
		if err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
		if result.DatasetID != "ds-climate" {
			t.Errorf("unexpected dataset id %s", result.DatasetID)
		}
	}

	stored, found, err := e.tokens.Get(context.Background(), token.HashKey(grant.AccessKey))
	if err != nil || !found {
		t.Fatalf("grant lookup failed: found=%v err=%v", found, err)
	}
	if stored.DownloadsUsed != 0 {
		t.Errorf("queries must not consume quota, used=%d", stored.DownloadsUsed)
	}
}

func TestQuery_UnknownKey(t *testing.T) {
	e := newEnv(t)

	_, err := e.gw.Query(context.Background(), token.KeyPrefix+"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", "0xabc", "q")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = e.gw.Query(context.Background(), "garbage", "0xabc", "q")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed key, got %v", err)
	}
}

func TestDownload_Succeeds(t *testing.T) {
	e := newEnv(t)
	grant := e.mintGrant(t, AccessRequest{})

	res, err := e.gw.Download(context.Background(), grant.AccessKey, "0xabc")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(res.Data) != string(e.payload) {
		t.Error("downloaded bytes differ from stored content")
	}
	if res.Metadata == nil || res.Metadata.ID != "ds-climate" {
		t.Error("missing dataset metadata")
	}
	if res.Remaining != models.DefaultMaxDownloads-1 {
		t.Errorf("expected %d remaining, got %d", models.DefaultMaxDownloads-1, res.Remaining)
	}

	// Provenance: created at index 0, accessed appended, verified.
	if res.Provenance == nil || !res.Provenance.Verified {
		t.Fatal("expected a verified provenance chain")
	}
	links := res.Provenance.Chain
	if links[0].Action != models.ProvenanceCreated {
		t.Errorf("expected created link first, got %s", links[0].Action)
	}
	last := links[len(links)-1]
	if last.Action != models.ProvenanceAccessed || last.Actor != "0xabc" {
		t.Errorf("expected accessed link by requester last, got %s by %s", last.Action, last.Actor)
	}
	for i := 1; i < len(links); i++ {
		if links[i].Timestamp.Before(links[i-1].Timestamp) {
			t.Error("provenance timestamps must be non-decreasing")
		}
	}
}

func TestDownload_IdentityBinding(t *testing.T) {
	e := newEnv(t)
	grant := e.mintGrant(t, AccessRequest{Requester: "0xalice"})

	_, err := e.gw.Download(context.Background(), grant.AccessKey, "0xbob")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestDownload_QuotaExhaustion(t *testing.T) {
	e := newEnv(t)
	grant := e.mintGrant(t, AccessRequest{MaxDownloadsOverride: 1})

	if _, err := e.gw.Download(context.Background(), grant.AccessKey, "0xabc"); err != nil {
		t.Fatalf("first download: %v", err)
	}
	_, err := e.gw.Download(context.Background(), grant.AccessKey, "0xabc")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

// TestDownload_QuotaAtomicity is the subsystem's core property: N remaining
// slots and N+k concurrent downloads yield exactly N successes.
func TestDownload_QuotaAtomicity(t *testing.T) {
	e := newEnv(t)
	const quota = 3
	const workers = 12
	grant := e.mintGrant(t, AccessRequest{MaxDownloadsOverride: quota})

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, quotaErrs int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.gw.Download(context.Background(), grant.AccessKey, "0xabc")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrQuotaExceeded):
				quotaErrs++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != quota {
		t.Errorf("expected exactly %d successes, got %d", quota, successes)
	}
	if quotaErrs != workers-quota {
		t.Errorf("expected %d quota rejections, got %d", workers-quota, quotaErrs)
	}
}

func TestExpiry_Monotonic(t *testing.T) {
	e := newEnv(t)
	grant := e.mintGrant(t, AccessRequest{TTLOverride: -time.Millisecond})

	_, err := e.gw.Query(context.Background(), grant.AccessKey, "0xabc", "q")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired on query, got %v", err)
	}
	_, err = e.gw.Download(context.Background(), grant.AccessKey, "0xabc")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired on download, got %v", err)
	}
}

func TestExpiry_AfterClockAdvance(t *testing.T) {
	e := newEnv(t)
	grant := e.mintGrant(t, AccessRequest{TTLOverride: time.Hour})

	// A grant with remaining quota still goes invalid at expiry.
	e.gw.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := e.gw.Download(context.Background(), grant.AccessKey, "0xabc")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired after clock advance, got %v", err)
	}
}

func TestRevokeGrant_Idempotent(t *testing.T) {
	e := newEnv(t)
	grant := e.mintGrant(t, AccessRequest{})

	if err := e.gw.RevokeGrant(context.Background(), grant.AccessKey); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := e.gw.RevokeGrant(context.Background(), grant.AccessKey); err != nil {
		t.Fatalf("second revoke must also succeed: %v", err)
	}

	_, found, err := e.tokens.Get(context.Background(), token.HashKey(grant.AccessKey))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Error("revoked grant still present in store")
	}

	_, err = e.gw.Download(context.Background(), grant.AccessKey, "0xabc")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestGenerateProvenanceChain(t *testing.T) {
	e := newEnv(t)
	e.mintGrant(t, AccessRequest{})

	chain, err := e.gw.GenerateProvenanceChain(context.Background(), "ds-climate")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if !chain.Verified {
		t.Error("expected verified chain after origin seeding")
	}
	if chain.Chain[0].Action != models.ProvenanceCreated {
		t.Errorf("expected created at index 0, got %s", chain.Chain[0].Action)
	}

	// Unknown dataset: empty, unverified, not an error.
	chain, err = e.gw.GenerateProvenanceChain(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("chain for unknown dataset: %v", err)
	}
	if chain.Verified || len(chain.Chain) != 0 {
		t.Error("unknown dataset must yield an empty unverified chain")
	}
}

func TestValidateIntegrity(t *testing.T) {
	e := newEnv(t)
	e.mintGrant(t, AccessRequest{})

	report, err := e.gw.ValidateIntegrity(context.Background(), "ds-climate", e.record.ContentHash)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.Valid {
		t.Error("expected hash to validate")
	}
	if !report.ProvenanceVerified {
		t.Error("expected provenance to verify")
	}

	report, err = e.gw.ValidateIntegrity(context.Background(), "ds-climate", "wrong-hash")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Valid {
		t.Error("wrong expected hash must not validate")
	}
	if report.ActualHash != e.record.ContentHash {
		t.Errorf("actual hash mismatch: %s", report.ActualHash)
	}
}

func TestUsageStats(t *testing.T) {
	e := newEnv(t)
	grant := e.mintGrant(t, AccessRequest{})

	if _, err := e.gw.Query(context.Background(), grant.AccessKey, "0xabc", "climate"); err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, err := e.gw.Download(context.Background(), grant.AccessKey, "0xabc"); err != nil {
		t.Fatalf("download: %v", err)
	}

	stats, err := e.gw.UsageStats(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalQueries != 1 || stats.TotalDownloads != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(stats.DatasetsAccessed) != 1 || stats.DatasetsAccessed[0] != "ds-climate" {
		t.Errorf("unexpected datasets accessed: %v", stats.DatasetsAccessed)
	}
}
