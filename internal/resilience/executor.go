package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"ai-companion/internal/llm"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 10 * time.Second
	DefaultBaseDelay      = time.Second
	DefaultMaxBackoff     = 8 * time.Second
	DefaultMaxRetryAfter  = 30 * time.Second
)

// Options tune a single Generate call.
type Options struct {
	MaxTokens      int
	Temperature    float32
	MaxAttempts    int
	AttemptTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	return o
}

// Prompt is what the executor turns into chat messages.
type Prompt struct {
	SystemInstructions string
	History            []llm.Message
	UserMessage        string
}

func (p Prompt) messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(p.History)+2)
	if p.SystemInstructions != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: p.SystemInstructions})
	}
	msgs = append(msgs, p.History...)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: p.UserMessage})
}

// Decorator post-processes a successful reply. Failures are never fatal.
type Decorator interface {
	Decorate(ctx context.Context, text string) (string, error)
}

type DecoratorFunc func(ctx context.Context, text string) (string, error)

func (f DecoratorFunc) Decorate(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

type Executor struct {
	client        llm.Client
	decorator     Decorator
	breaker       *gobreaker.CircuitBreaker
	wrapBackoff   func(retry.Backoff) retry.Backoff
	baseDelay     time.Duration
	maxBackoff    time.Duration
	maxRetryAfter time.Duration
	logger        zerolog.Logger
}

type ExecutorOption func(*Executor)

func WithDecorator(d Decorator) ExecutorOption {
	return func(e *Executor) { e.decorator = d }
}

func WithBreaker(cb *gobreaker.CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.breaker = cb }
}

// WithBackoffWrapper lets callers observe or reshape the computed waits, in
// the manner of retry.WithJitter.
func WithBackoffWrapper(w func(retry.Backoff) retry.Backoff) ExecutorOption {
	return func(e *Executor) { e.wrapBackoff = w }
}

// WithBackoff sets the exponential backoff unit and its cap.
func WithBackoff(base, max time.Duration) ExecutorOption {
	return func(e *Executor) {
		if base > 0 {
			e.baseDelay = base
		}
		if max > 0 {
			e.maxBackoff = max
		}
	}
}

// WithMaxRetryAfter caps how long a throttled attempt waits.
func WithMaxRetryAfter(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.maxRetryAfter = d
		}
	}
}

func WithLogger(l zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

func NewExecutor(client llm.Client, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:        client,
		baseDelay:     DefaultBaseDelay,
		maxBackoff:    DefaultMaxBackoff,
		maxRetryAfter: DefaultMaxRetryAfter,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewBreaker builds a breaker that trips after failures consecutive retryable
// failures and stays open for cooldown. Client errors do not count.
func NewBreaker(name string, failures uint32, cooldown time.Duration, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !Classify(err, 1, 0).Kind().Retryable()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// Generate produces a reply for p. On failure the returned error is always a
// *Error carrying the category of the last attempt.
func (e *Executor) Generate(ctx context.Context, p Prompt, o Options) (string, error) {
	o = o.withDefaults()
	req := llm.Request{Messages: p.messages(), MaxTokens: o.MaxTokens, Temperature: o.Temperature}

	var (
		text    string
		attempt int
		last    *Error
	)

	var backoff retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		delay := e.delayFor(last.Category, last.Attempts)
		e.logger.Info().Err(last.Err).
			Int("attempt", last.Attempts).
			Int("max_attempts", o.MaxAttempts).
			Str("category", last.Category.Kind().String()).
			Dur("delay", delay).
			Msg("llm call failed, retrying")
		return delay, false
	})
	if e.wrapBackoff != nil {
		backoff = e.wrapBackoff(backoff)
	}
	backoff = retry.WithMaxRetries(uint64(o.MaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		out, err := e.attempt(ctx, req, o.AttemptTimeout)
		if err == nil {
			text = out
			return nil
		}

		cat := Classify(err, attempt, o.AttemptTimeout)
		last = &Error{Category: cat, Attempts: attempt, Err: err}
		log := e.logger.With().Int("attempt", attempt).Str("category", cat.Kind().String()).Logger()

		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("caller context done, giving up")
			return last
		}
		if !cat.Kind().Retryable() {
			log.Warn().Err(err).Msg("llm call failed, not retryable")
			return last
		}
		return retry.RetryableError(last)
	})
	if err == nil {
		return e.decorate(ctx, text), nil
	}

	if last == nil {
		// Caller context was done before the first attempt.
		return "", &Error{Category: Classify(err, 0, o.AttemptTimeout), Err: err}
	}
	if last.Attempts == o.MaxAttempts && last.Category.Kind().Retryable() {
		e.logger.Warn().Err(last.Err).Str("category", last.Category.Kind().String()).Int("attempts", last.Attempts).Msg("llm call failed, attempts exhausted")
	}
	return "", last
}

func (e *Executor) delayFor(cat Category, attempt int) time.Duration {
	if rl, ok := cat.(RateLimited); ok {
		if rl.RetryAfter > e.maxRetryAfter {
			return e.maxRetryAfter
		}
		return rl.RetryAfter
	}
	return Backoff(attempt, e.baseDelay, e.maxBackoff)
}

type callResult struct {
	resp llm.Response
	err  error
}

// attempt runs one remote call bounded by timeout. The deadline is enforced
// here as well, so a client that ignores its context still unblocks us.
func (e *Executor) attempt(ctx context.Context, req llm.Request, timeout time.Duration) (string, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		resp, err := e.call(actx, req)
		done <- callResult{resp: resp, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-actx.Done():
		return "", actx.Err()
	}
	if res.err != nil {
		return "", res.err
	}
	if strings.TrimSpace(res.resp.Content) == "" {
		return "", llm.ErrMalformedResponse
	}
	return res.resp.Content, nil
}

func (e *Executor) call(ctx context.Context, req llm.Request) (llm.Response, error) {
	if e.breaker == nil {
		return e.client.Generate(ctx, req)
	}
	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.client.Generate(ctx, req)
	})
	if err != nil {
		return llm.Response{}, err
	}
	resp, ok := out.(llm.Response)
	if !ok {
		return llm.Response{}, llm.ErrMalformedResponse
	}
	return resp, nil
}

func (e *Executor) decorate(ctx context.Context, text string) string {
	if e.decorator == nil {
		return text
	}
	out, err := safeDecorate(ctx, e.decorator, text)
	if err != nil {
		e.logger.Warn().Err(err).Msg("reply decoration failed, using undecorated text")
		return text
	}
	if strings.TrimSpace(out) == "" {
		return text
	}
	return out
}

func safeDecorate(ctx context.Context, d Decorator, text string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decorator panic: %v", r)
		}
	}()
	return d.Decorate(ctx, text)
}

// IsCategory reports whether err carries a category of kind k.
func IsCategory(err error, k Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Category != nil && re.Category.Kind() == k
}
