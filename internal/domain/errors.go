package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an identifier the upstream says does not exist.
	// It is a correct negative answer, not an upstream malfunction: it is
	// never retried and never counts as a circuit-breaker failure.
	ErrNotFound = errors.New("media not found")

	// ErrUpstreamAuth marks a 401/403 from a provider. Not retried by the
	// generic retry helper; token-based connectors refresh once and retry.
	ErrUpstreamAuth = errors.New("upstream rejected credentials")
)

// UpstreamStatusError carries a non-2xx provider response.
type UpstreamStatusError struct {
	Status int
	Body   string
}

func (e *UpstreamStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream HTTP %d", e.Status)
	}
	return fmt.Sprintf("upstream HTTP %d: %s", e.Status, e.Body)
}

// Transient reports whether the status indicates a server-side fault worth
// retrying. Client errors are not transient.
func (e *UpstreamStatusError) Transient() bool {
	return e.Status >= 500
}

func (e *UpstreamStatusError) Unwrap() error {
	switch e.Status {
	case 401, 403:
		return ErrUpstreamAuth
	case 404, 410:
		return ErrNotFound
	}
	return nil
}
