package event

import "errors"

var (
	// ErrEventNotFound is returned when an event ID does not exist.
	ErrEventNotFound = errors.New("event: not found")

	// ErrAlreadyResolved is returned when resolving an event that is not active.
	ErrAlreadyResolved = errors.New("event: already resolved")

	// ErrInvalidLevel is returned for a level outside the known set.
	ErrInvalidLevel = errors.New("event: invalid level")
)
