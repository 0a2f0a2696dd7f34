package services

import "errors"

// Failure taxonomy for the payment flow. Validation errors surface
// before any side effect; gateway errors are recorded on the payment and
// returned wrapped so callers can decide to retry with a fresh attempt.
var (
	// ErrInvalidAmount rejects non-positive amounts before any gateway call.
	ErrInvalidAmount = errors.New("payment amount must be positive")

	// ErrInvalidPaymentType rejects unknown payment types.
	ErrInvalidPaymentType = errors.New("unknown payment type")

	// ErrNotFound means the payment, receipt or charge id is unknown.
	ErrNotFound = errors.New("record not found")

	// ErrGatewayUnavailable means the gateway could not be reached or
	// errored while creating an intent. The payment is marked failed; the
	// caller retries by creating a new attempt.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayDeclined means the gateway authoritatively reported the
	// payment as declined, expired or cancelled.
	ErrGatewayDeclined = errors.New("payment declined by gateway")

	// ErrVerificationTimeout means server-side verification did not reach
	// a decision within the bounded attempt budget.
	ErrVerificationTimeout = errors.New("gateway verification timed out")

	// ErrInvalidTransition means the requested operation is not legal for
	// the payment's current status.
	ErrInvalidTransition = errors.New("invalid payment state transition")

	// ErrNotCancelable means the payment is past the point of explicit
	// cancellation; once completed the only way out is a refund.
	ErrNotCancelable = errors.New("payment can no longer be cancelled")

	// ErrNoReceipt means the payment has not completed, so no receipt
	// exists for it.
	ErrNoReceipt = errors.New("payment has no receipt")
)
