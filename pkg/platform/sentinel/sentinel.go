// Package sentinel holds infrastructure facts returned by stores. Services
// translate them into domain errors; transports never see them directly.
package sentinel

import "errors"

var (
	// ErrNotFound means no row or key exists for the requested id.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists means a create hit a unique key that is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnavailable means a backing store could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
