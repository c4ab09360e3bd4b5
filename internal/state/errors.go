package state

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConcurrentUpdate reports a position write that raced another writer. UpdatePosition
	// only logs it and still writes; SwapPosition returns it and writes nothing.
	ErrConcurrentUpdate = errors.New("concurrent position update")

	// ErrDatabaseNotInitialized is returned by a Store whose connection is closed or nil.
	ErrDatabaseNotInitialized = errors.New("database not initialized")
)
