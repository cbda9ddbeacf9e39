package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedResponse reports a successful exchange whose body lacks the reply text.
var ErrMalformedResponse = errors.New("llm: malformed response")

// StatusError is returned when the endpoint answered with a non-2xx status.
// HasRetryAfter reports whether the response carried a usable Retry-After
// header; RetryAfter may then legitimately be zero.
type StatusError struct {
	StatusCode    int
	RetryAfter    time.Duration
	HasRetryAfter bool
	Err           error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("llm: status %d", e.StatusCode)
	}
	return fmt.Sprintf("llm: status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }
