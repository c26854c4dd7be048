package gateway

import (
	"errors"
	"fmt"
)

// Error taxonomy for aggregator calls. Callers branch on these, so the
// mapping from upstream status codes is part of the contract.
var (
	ErrUnauthorized = errors.New("aggregator rejected the credential")
	ErrRateLimited  = errors.New("aggregator rate limit exceeded")
	ErrBadRequest   = errors.New("aggregator rejected the request")
)

// UpstreamError covers every other failure mode: unexpected status codes,
// malformed bodies, and transport errors (including timeouts).
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream request: %v", e.Err)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, truncate(e.Body, 200))
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
