package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable wraps every transient failure talking to the catalog:
	// transport errors, non-2xx responses, undecodable bodies and
	// success=false envelopes. Callers do not retry within one call.
	ErrUnavailable = errors.New("catalog unavailable")

	// ErrNoFavoritesEndpoint means no favorites path is configured.
	ErrNoFavoritesEndpoint = errors.New("no favorites endpoint configured")
)

// StatusError is returned for non-2xx responses. It matches ErrUnavailable.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
}

// Is makes errors.Is(err, ErrUnavailable) hold for status errors.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnavailable
}
