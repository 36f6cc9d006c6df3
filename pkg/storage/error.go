package storage

import "errors"

var (
	// ErrNotFound is returned when a node, session, or chunk doesn't
	// exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrConnection is returned when the storage backend is unreachable.
	ErrConnection = errors.New("storage connection failed")
)
