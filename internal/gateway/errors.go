package gateway

import (
	"errors"

	"github.com/knowledgenet/datagate/internal/payment"
	"github.com/knowledgenet/datagate/internal/token"
)

// The gateway's error taxonomy. Aliased sentinels stay identical to the
// owning package's value so errors.Is matches through either name.
var (
	// ErrPaymentInvalid: proof missing/malformed or no payment on the ledger.
	ErrPaymentInvalid = payment.ErrPaymentInvalid
	// ErrNotFound: unknown access key or dataset.
	ErrNotFound = token.ErrNotFound
	// ErrForbidden: the grant was minted for a different requester.
	ErrForbidden = errors.New("access grant bound to a different requester")
	// ErrExpired: the grant's lifetime has passed.
	ErrExpired = errors.New("access grant expired")
	// ErrQuotaExceeded: the grant's download quota is spent.
	ErrQuotaExceeded = token.ErrQuotaExceeded
	// ErrTimeout: the caller's deadline elapsed before the operation finished.
	ErrTimeout = errors.New("operation timed out")
	// ErrUpstreamUnavailable: ledger, content store or query engine failure.
	ErrUpstreamUnavailable = errors.New("upstream collaborator unavailable")
	// ErrInvalidRequest: a required request field is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")
)
