package llm

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

type hintKey struct{}

// responseHint collects the status and Retry-After of a failed response for
// the request whose context carries it.
type responseHint struct {
	mu     sync.Mutex
	status   int
	delay    time.Duration
	hasDelay bool
}

func (h *responseHint) set(status int, d time.Duration, hasDelay bool) {
	h.mu.Lock()
	h.status = status
	h.delay = d
	h.hasDelay = hasDelay
	h.mu.Unlock()
}

func (h *responseHint) get() (int, time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.delay, h.hasDelay
}

func withResponseHint(ctx context.Context) (context.Context, *responseHint) {
	h := &responseHint{}
	return context.WithValue(ctx, hintKey{}, h), h
}

// hintTransport records the status of non-2xx responses and the Retry-After
// of 429s. go-openai drops response headers, and for non-JSON bodies the
// status too, when it builds its error values.
type hintTransport struct {
	rt  http.RoundTripper
	now func() time.Time
}

func (t hintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.rt.RoundTrip(req)
	if err != nil || resp == nil || resp.StatusCode < http.StatusBadRequest {
		return resp, err
	}
	h, ok := req.Context().Value(hintKey{}).(*responseHint)
	if !ok {
		return resp, nil
	}
	var (
		delay    time.Duration
		hasDelay bool
	)
	if resp.StatusCode == http.StatusTooManyRequests {
		delay, hasDelay = parseRetryAfter(resp.Header.Get("Retry-After"), t.now())
	}
	h.set(resp.StatusCode, delay, hasDelay)
	return resp, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
