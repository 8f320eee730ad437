package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidSegment is returned when a campaign references a segment
	// that does not exist or is not usable for dispatch.
	ErrInvalidSegment = errors.New("invalid segment")

	// ErrConflict is returned when a conditional update lost a race,
	// e.g. two dispatchers claiming the same campaign.
	ErrConflict = errors.New("conflicting update")
)
