package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/models"
)

// mockLedger implements Ledger for testing.
type mockLedger struct {
	mu       sync.Mutex
	paid     bool
	err      error
	failOnce bool
	calls    int
}

func (m *mockLedger) HasPaid(_ context.Context, _, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOnce && m.calls == 1 {
		return false, errors.New("connection refused")
	}
	if m.err != nil {
		return false, m.err
	}
	return m.paid, nil
}

func (m *mockLedger) GetDatasetRecord(_ context.Context, id string) (*models.DatasetRecord, error) {
	return &models.DatasetRecord{ID: id}, nil
}

func (m *mockLedger) ListDatasets(_ context.Context) ([]*models.DatasetRecord, error) {
	return nil, nil
}

func (m *mockLedger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestGate(ledger Ledger) *Gate {
	g := NewGate(ledger, zerolog.Nop())
	g.retryDelay = time.Millisecond
	return g
}

func TestGate_ValidateAccepts(t *testing.T) {
	ledger := &mockLedger{paid: true}
	g := newTestGate(ledger)

	if err := g.Validate(context.Background(), "ds-1", "0xabc", "proof-0xdeadbeef"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGate_ValidateRejectsEmptyProof(t *testing.T) {
	ledger := &mockLedger{paid: true}
	g := newTestGate(ledger)

	err := g.Validate(context.Background(), "ds-1", "0xabc", "")
	if !errors.Is(err, ErrPaymentInvalid) {
		t.Fatalf("expected ErrPaymentInvalid, got %v", err)
	}
	if ledger.callCount() != 0 {
		t.Errorf("ledger should not be consulted for an empty proof, got %d calls", ledger.callCount())
	}
}

func TestGate_ValidateRejectsUnpaid(t *testing.T) {
	ledger := &mockLedger{paid: false}
	g := newTestGate(ledger)

	err := g.Validate(context.Background(), "ds-1", "0xabc", "proof-0xdeadbeef")
	if !errors.Is(err, ErrPaymentInvalid) {
		t.Fatalf("expected ErrPaymentInvalid, got %v", err)
	}
}

func TestGate_ValidateRetriesOnce(t *testing.T) {
	ledger := &mockLedger{paid: true, failOnce: true}
	g := newTestGate(ledger)

	if err := g.Validate(context.Background(), "ds-1", "0xabc", "proof-0xdeadbeef"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if ledger.callCount() != 2 {
		t.Errorf("expected 2 ledger calls, got %d", ledger.callCount())
	}
}

func TestGate_ValidateLedgerDown(t *testing.T) {
	ledger := &mockLedger{err: errors.New("connection refused")}
	g := newTestGate(ledger)

	err := g.Validate(context.Background(), "ds-1", "0xabc", "proof-0xdeadbeef")
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if ledger.callCount() != 2 {
		t.Errorf("expected exactly one retry (2 calls), got %d", ledger.callCount())
	}
}

func TestGate_ValidateCanceledDuringBackoff(t *testing.T) {
	ledger := &mockLedger{err: errors.New("connection refused")}
	g := NewGate(ledger, zerolog.Nop())
	g.retryDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := g.Validate(ctx, "ds-1", "0xabc", "proof-0xdeadbeef")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGate_ValidateUnknownDataset(t *testing.T) {
	ledger := &mockLedger{err: ErrDatasetNotFound}
	g := newTestGate(ledger)

	err := g.Validate(context.Background(), "no-such", "0xabc", "proof-0xdeadbeef")
	if !errors.Is(err, ErrPaymentInvalid) {
		t.Fatalf("expected ErrPaymentInvalid for unknown dataset, got %v", err)
	}
	if ledger.callCount() != 1 {
		t.Errorf("unknown dataset must not be retried, got %d calls", ledger.callCount())
	}
}

func TestStaticLedger(t *testing.T) {
	ds := &models.DatasetRecord{ID: "ds-1", Owner: "0xowner", Verified: true}
	ledger := NewStaticLedger([]*models.DatasetRecord{ds}, false)
	ctx := context.Background()

	paid, err := ledger.HasPaid(ctx, "ds-1", "0xabc")
	if err != nil || paid {
		t.Fatalf("expected unpaid, got paid=%v err=%v", paid, err)
	}

	ledger.RecordPayment("ds-1", "0xabc")
	paid, err = ledger.HasPaid(ctx, "ds-1", "0xabc")
	if err != nil || !paid {
		t.Fatalf("expected paid after RecordPayment, got paid=%v err=%v", paid, err)
	}

	if _, err := ledger.GetDatasetRecord(ctx, "no-such"); !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}

	all, err := ledger.ListDatasets(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected 1 dataset, got %d err=%v", len(all), err)
	}
}
