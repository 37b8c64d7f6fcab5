// Package store holds the errors shared by every storage backend.
package store

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrClaimLost is returned when an event is no longer owned by the
	// claim token used to update it, typically after the janitor reclaimed it.
	ErrClaimLost = errors.New("event claim lost")

	// ErrConflict is returned when a row exists but is in a state that does
	// not allow the requested transition.
	ErrConflict = errors.New("state conflict")
)
