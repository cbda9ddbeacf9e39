package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"ai-companion/internal/llm"
)

// Classify maps a raw failure of the given attempt (1-based) to its category.
// deadline is the per-attempt timeout reported by Timeout. It never returns nil
// for a non-nil err.
func Classify(err error, attempt int, deadline time.Duration) Category {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout{Deadline: deadline}
	}

	if status, retryAfter, hasRetryAfter, ok := statusOf(err); ok {
		switch {
		case status == http.StatusTooManyRequests:
			if !hasRetryAfter {
				retryAfter = RateLimitDelay(attempt)
			}
			return RateLimited{RetryAfter: retryAfter}
		case status >= 400 && status < 500:
			return ClientError{StatusCode: status}
		case status >= 500:
			return ServerError{StatusCode: status}
		}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ServerError{StatusCode: http.StatusServiceUnavailable}
	}

	// *url.Error satisfies net.Error, so a cancelled request must be caught
	// before the network checks.
	if errors.Is(err, context.Canceled) {
		return Unknown{}
	}

	if isNetworkError(err) {
		return NetworkError{}
	}

	if isMalformed(err) {
		return MalformedResponse{}
	}

	return Unknown{}
}

// statusOf extracts the HTTP status and, when the response named one, the
// Retry-After delay.
func statusOf(err error) (status int, retryAfter time.Duration, hasRetryAfter, ok bool) {
	var se *llm.StatusError
	if errors.As(err, &se) {
		return se.StatusCode, se.RetryAfter, se.HasRetryAfter, true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode, 0, false, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return reqErr.HTTPStatusCode, 0, false, true
	}
	return 0, 0, false, false
}

func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isMalformed(err error) bool {
	if errors.Is(err, llm.ErrMalformedResponse) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}
