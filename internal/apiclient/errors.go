package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Outcome classifies the result of a request for retry purposes.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable covers connection errors, timeouts, 5xx and 429.
	OutcomeRetryable
	// OutcomePermanent covers every other 4xx; retrying would resend a
	// request the server already rejected.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps a request error to an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return OutcomeRetryable
		case apiErr.StatusCode >= 500:
			return OutcomeRetryable
		case apiErr.StatusCode >= 400:
			return OutcomePermanent
		default:
			// 1xx/3xx that were not followed.
			return OutcomePermanent
		}
	}

	if errors.Is(err, ErrEncoding) {
		return OutcomePermanent
	}

	// Transport failures, timeouts, cancellation and missing credentials all
	// leave the request eligible for another attempt.
	return OutcomeRetryable
}

// RetryAfter returns the server-provided retry delay carried by err.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// ErrEncoding marks requests that could not be built locally.
var ErrEncoding = errors.New("request encoding failed")

// parseRetryAfter reads a Retry-After header given either in seconds or as
// an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
