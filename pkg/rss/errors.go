package rss

import "errors"

var (
	// ErrInvalidWeight is returned when weight bytes cannot be decoded.
	ErrInvalidWeight = errors.New("invalid weight package")
	// ErrInvalidConfiguration is returned when configuration bytes are malformed or out of range.
	ErrInvalidConfiguration = errors.New("invalid configuration package")
	// ErrPermissionDenied is returned by a PermissionGate that refuses scanning.
	ErrPermissionDenied = errors.New("bluetooth permission denied")
)
