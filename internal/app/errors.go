package app

import "errors"

// ErrNotFound and related errors describe store-level failures.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrBusy reports a write lock that could not be taken before the store's busy timeout.
	ErrBusy = errors.New("store busy")
)
