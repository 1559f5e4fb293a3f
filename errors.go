package memwatch

import "errors"

// Contract errors, returned synchronously to the caller (spec.md §7).
var (
	ErrInvalidArgument       = errors.New("memwatch: invalid argument")
	ErrNotInitialized        = errors.New("memwatch: not initialized")
	ErrTooManyRegions        = errors.New("memwatch: too many regions")
	ErrOutOfMemory           = errors.New("memwatch: out of memory")
	ErrOsProtectionUnavailable = errors.New("memwatch: OS page protection unavailable")
)
