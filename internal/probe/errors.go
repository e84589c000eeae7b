package probe

import "errors"

var (
	// ErrUnhealthy is returned when /healthz does not answer 200.
	ErrUnhealthy = errors.New("service is not healthy")
	// ErrInvalidConfig is returned for a non-positive count or worker number.
	ErrInvalidConfig = errors.New("invalid probe config")
)
