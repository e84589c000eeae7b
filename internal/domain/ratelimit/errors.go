package ratelimit

import "errors"

// Sentinel kinds for rate-limit errors.
var (
	// ErrStoreUnavailable means the backing store failed while the posture is strict.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrNotConfigured means no store was wired while the posture is strict.
	ErrNotConfigured = errors.New("rate limit store not configured")
	// ErrInvalidPolicy is returned for policies without a positive limit and window.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
	// ErrUnknownPolicy is returned when no policy exists for an endpoint.
	ErrUnknownPolicy = errors.New("unknown rate limit policy")
)
