package database

import "errors"

// Sentinel errors shared across repositories. Handlers map these onto HTTP
// status codes; everything else surfaces as an internal error.
var (
	// ErrNotFound means the referenced subject or student does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument means the caller supplied input the store cannot
	// act on (malformed date, overlapping mark sets, bad embedding).
	ErrInvalidArgument = errors.New("invalid argument")
)
