package jobstore

import "errors"

// Sentinel errors surfaced across the store boundary. Transports map these
// to their own status codes.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSource is returned when an identical (user, source) pair
	// already has a non-terminal submission inside the dedup window.
	ErrDuplicateSource = errors.New("duplicate source")

	// ErrBackpressure is returned when the pending backlog is at the
	// high-water mark. Callers resubmit later.
	ErrBackpressure = errors.New("rejected: backpressure")

	// ErrNothingClaimable is returned when no submission is ready for the
	// requested worker kind.
	ErrNothingClaimable = errors.New("nothing claimable")

	// ErrNotClaimOwner is returned when a mutation requires an active claim
	// the caller does not hold.
	ErrNotClaimOwner = errors.New("caller does not hold the active claim")

	// ErrNotCancellable is returned when cancelling a submission already in
	// a terminal stage.
	ErrNotCancellable = errors.New("submission is not cancellable")

	// ErrInvalidInput is returned for malformed submissions or queries.
	ErrInvalidInput = errors.New("invalid input")
)
