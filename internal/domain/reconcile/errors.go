package reconcile

import "errors"

// Error kinds surfaced across the engine boundary. Handlers map these
// onto HTTP statuses; everything else is an internal fault.
var (
	// ErrInvalidArgument: malformed or missing fields in a manual
	// operation. No partial effect.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound: a referenced record does not exist. Inside a batch
	// allocation the missing candidate is skipped instead.
	ErrNotFound = errors.New("record not found")

	// ErrPreconditionFailed: refund or reversal attempted from a state
	// that does not permit it. Rejected atomically.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrConflict: a transaction kept colliding with concurrent
	// mutations and exhausted its retries. Transient.
	ErrConflict = errors.New("conflicting concurrent update")
)
