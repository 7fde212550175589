package shopify

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitExceededError is returned when HTTP 429 persists after the maximum number of retries
type RateLimitExceededError struct {
	Endpoint   string
	Retries    int
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("shopify rate limit exceeded on %s after %d retries (retry after %s)", e.Endpoint, e.Retries, e.RetryAfter)
}

// APIError is a non-2xx, non-429 vendor response. Never retried by the client.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify API error on %s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

// UnavailableError wraps network and timeout failures
type UnavailableError struct {
	Endpoint string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("shopify unavailable on %s: %v", e.Endpoint, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsRateLimitExceeded reports whether err is a RateLimitExceededError
func IsRateLimitExceeded(err error) bool {
	var e *RateLimitExceededError
	return errors.As(err, &e)
}

// IsUnavailable reports whether err is an UnavailableError
func IsUnavailable(err error) bool {
	var e *UnavailableError
	return errors.As(err, &e)
}

// AsAPIError extracts an APIError from err
func AsAPIError(err error) (*APIError, bool) {
	var e *APIError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
