package resilience

import (
	"fmt"
	"time"
)

// Kind enumerates the closed set of failure categories.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindRateLimited
	KindClientError
	KindServerError
	KindNetworkError
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindClientError:
		return "client_error"
	case KindServerError:
		return "server_error"
	case KindNetworkError:
		return "network_error"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt may change the outcome.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindServerError, KindNetworkError:
		return true
	default:
		return false
	}
}

// Category is a classified failure. The set of implementations is sealed to
// this package: Timeout, RateLimited, ClientError, ServerError, NetworkError,
// MalformedResponse and Unknown. Switch on Kind() to handle all of them.
type Category interface {
	Kind() Kind
	String() string
	sealed()
}

type Timeout struct{ Deadline time.Duration }

type RateLimited struct{ RetryAfter time.Duration }

type ClientError struct{ StatusCode int }

type ServerError struct{ StatusCode int }

type NetworkError struct{}

type MalformedResponse struct{}

type Unknown struct{}

func (Timeout) Kind() Kind           { return KindTimeout }
func (RateLimited) Kind() Kind       { return KindRateLimited }
func (ClientError) Kind() Kind       { return KindClientError }
func (ServerError) Kind() Kind       { return KindServerError }
func (NetworkError) Kind() Kind      { return KindNetworkError }
func (MalformedResponse) Kind() Kind { return KindMalformedResponse }
func (Unknown) Kind() Kind           { return KindUnknown }

func (c Timeout) String() string     { return fmt.Sprintf("timeout after %s", c.Deadline) }
func (c RateLimited) String() string { return fmt.Sprintf("rate limited, retry after %s", c.RetryAfter) }
func (c ClientError) String() string { return fmt.Sprintf("client error %d", c.StatusCode) }
func (c ServerError) String() string { return fmt.Sprintf("server error %d", c.StatusCode) }
func (NetworkError) String() string  { return "network error" }
func (MalformedResponse) String() string {
	return "malformed response"
}
func (Unknown) String() string { return "unknown error" }

func (Timeout) sealed()           {}
func (RateLimited) sealed()       {}
func (ClientError) sealed()       {}
func (ServerError) sealed()       {}
func (NetworkError) sealed()      {}
func (MalformedResponse) sealed() {}
func (Unknown) sealed()           {}
