package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrClosed     = errors.New("store closed")
	ErrInvalidKey = errors.New("invalid rate limit key")
)
