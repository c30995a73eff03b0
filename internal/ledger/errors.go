package ledger

import "errors"

var (
	// ErrTrustNotEstablished is returned by Settle when the payer has no
	// confirmed trustline for the settlement currency. Caller error,
	// never retried automatically.
	ErrTrustNotEstablished = errors.New("ledger: trustline not established")

	// ErrInsufficientFunds is returned when the payer's ledger balance
	// cannot cover the payment. Terminal: the session still ends, the
	// fare moves to out-of-band collection.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrSettlementPending is returned when a submitted payment did not
	// confirm within the polling budget. Not a failure: the caller
	// retries later with the same idempotency key.
	ErrSettlementPending = errors.New("ledger: settlement pending confirmation")

	// ErrLedgerUnreachable is returned on transport failures talking to
	// the ledger gateway. Retryable with backoff.
	ErrLedgerUnreachable = errors.New("ledger: unreachable")
)
