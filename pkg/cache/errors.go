package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamFetch indicates the upstream fetch failed and no fresh,
	// stale, or last-resort value was available for the key.
	ErrUpstreamFetch = errors.New("upstream temporarily unavailable")

	// ErrInvalidEntry indicates a shared-store value could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// UpstreamError carries the key and underlying cause of a fetch failure
// that could not be absorbed by any cache layer.
type UpstreamError struct {
	Key string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream temporarily unavailable for %q: %v", e.Key, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUpstreamFetch) match without callers needing
// the concrete type.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamFetch }
