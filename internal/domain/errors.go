package domain

import "errors"

var (
	// ErrInvalidTransition rejects a lifecycle change attempted from a
	// state that does not list it, or by an actor not permitted to
	// trigger it. Transitions are never clamped to a legal neighbor.
	ErrInvalidTransition = errors.New("invalid order transition")

	// ErrCartConflict means a converter precondition failed: the item
	// vanished, the quantity went invalid, or the post-create removal
	// could not be reconciled.
	ErrCartConflict = errors.New("cart conflict")

	// ErrNetwork wraps transient transport failures. Idempotent calls
	// may be retried once; mutating calls are never retried.
	ErrNetwork = errors.New("network error")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")

	// ErrAcceptInFlight rejects a duplicate accept while the first call
	// for the same order has not reached a terminal outcome.
	ErrAcceptInFlight = errors.New("accept already in flight")
)
