package common

import "errors"

// ErrNotFound is returned when a requested item (e.g., a document or a cursor record) is not found.
var ErrNotFound = errors.New("queryopt: requested item not found")

// Additional package-level errors
var (
	// ErrInvalidQuery indicates a malformed query descriptor (bad collection, field, operator, etc.).
	ErrInvalidQuery = errors.New("queryopt: invalid query")
	// ErrInvalidConfig indicates a configuration value outside its accepted range.
	ErrInvalidConfig = errors.New("queryopt: invalid configuration")
	// ErrCursorNotFound indicates the record named by a pagination cursor does not exist in the collection.
	ErrCursorNotFound = errors.New("queryopt: cursor record not found")
	ErrProviderNotSet = errors.New("queryopt: query provider not set")
	ErrNotConfigured  = errors.New("queryopt: package not configured, call Configure first")
	ErrClosed         = errors.New("queryopt: optimizer is closed")
)
