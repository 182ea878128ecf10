package api

import (
	"fmt"
	"time"
)

// NetworkError is returned when a request fails at the transport level or
// the server responds with a non-2xx status other than 429.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned when the server signalled overload with a 429
// and the request exhausted its retry budget. RetryAfter is the clamped
// cooldown the client is honoring.
type RateLimitError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("request to %s rate limited, retry after %s", e.URL, e.RetryAfter)
}

// ValidationError is returned when a server response or inbound event is
// missing required fields or cannot be decoded.
type ValidationError struct {
	Endpoint string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid response from %s: %s", e.Endpoint, e.Reason)
}
