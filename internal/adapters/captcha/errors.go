package captcha

import "errors"

// Sentinel kinds carried in Result.Cause for logging. They never reach the submitter.
var (
	ErrMissingToken    = errors.New("captcha token missing")
	ErrMissingSecret   = errors.New("captcha secret not configured")
	ErrRejected        = errors.New("captcha rejected by verifier")
	ErrUnavailable     = errors.New("captcha verifier unavailable")
	ErrOutboundLimited = errors.New("captcha outbound limit exceeded")
)
