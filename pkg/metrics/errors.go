package metrics

import (
	"errors"
)

// ErrUnknownMetric is returned by Value when no series matches.
var ErrUnknownMetric = errors.New("metric not found")
