package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrPaymentInvalid is returned when the proof is missing or the ledger
	// has no matching payment.
	ErrPaymentInvalid = errors.New("payment proof invalid or payment not found")
	// ErrLedgerUnavailable is returned when the ledger cannot be reached
	// even after a retry.
	ErrLedgerUnavailable = errors.New("payment ledger unavailable")
)

// minProofLength rejects obviously malformed proofs before touching the
// ledger. The proof itself stays opaque to the gateway.
const minProofLength = 8

// Gate validates payment proofs. It holds no state of its own; the ledger
// is the source of truth and is idempotent, so repeat validations for the
// same (dataset, payer) pair need no deduplication here.
type Gate struct {
	ledger     Ledger
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewGate creates a payment gate over the given ledger.
func NewGate(ledger Ledger, logger zerolog.Logger) *Gate {
	return &Gate{
		ledger:     ledger,
		retryDelay: 500 * time.Millisecond,
		logger:     logger.With().Str("component", "payment_gate").Logger(),
	}
}

// Validate checks the proof and the ledger's payment record for the pair.
// The ledger read is idempotent, so a transient failure is retried once
// after a backoff; a second failure surfaces as ErrLedgerUnavailable.
func (g *Gate) Validate(ctx context.Context, datasetID, requester, proof string) error {
	if len(proof) < minProofLength {
		return fmt.Errorf("%w: proof too short", ErrPaymentInvalid)
	}

	paid, err := g.ledger.HasPaid(ctx, datasetID, requester)
	if err != nil && !errors.Is(err, ErrDatasetNotFound) {
		g.logger.Warn().Err(err).
			Str("dataset_id", datasetID).
			Str("requester", requester).
			Msg("ledger check failed, retrying once")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.retryDelay):
		}

		paid, err = g.ledger.HasPaid(ctx, datasetID, requester)
	}
	if err != nil {
		if errors.Is(err, ErrDatasetNotFound) {
			return fmt.Errorf("%w: %s", ErrPaymentInvalid, datasetID)
		}
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if !paid {
		return fmt.Errorf("%w: no payment recorded for %s", ErrPaymentInvalid, requester)
	}
	return nil
}
