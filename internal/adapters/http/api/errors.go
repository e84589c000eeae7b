package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrBodyTooLarge     = errors.New("request body too large")
	ErrUnsupportedMedia = errors.New("unsupported content type")
	ErrBackpressure     = errors.New("backpressure")
	ErrInternal         = errors.New("internal error")
)

// WrapKind tags err with a sentinel kind and the operation that failed.
func WrapKind(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
