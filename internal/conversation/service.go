// Package conversation runs one conversational turn end to end: context lookup
// through the cache, the resilient model call and, when that fails, a
// persona-flavoured fallback. A reply is always produced.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ai-companion/internal/contextcache"
	"ai-companion/internal/fallback"
	"ai-companion/internal/hints"
	"ai-companion/internal/history"
	"ai-companion/internal/llm"
	"ai-companion/internal/metrics"
	"ai-companion/internal/persona"
	"ai-companion/internal/resilience"
)

// ContextSource assembles a conversation context from persisted turns.
type ContextSource interface {
	LoadConversationContext(ctx context.Context, conversationID string) (history.Context, error)
}

type TurnStore interface {
	AppendTurn(ctx context.Context, conversationID string, role history.Role, content string) error
}

type Resetter interface {
	Reset(ctx context.Context, conversationID string) error
}

// Store is what both history.Store and storage.FileStore provide.
type Store interface {
	ContextSource
	TurnStore
	Resetter
}

// Generator is the resilient model call, normally *resilience.Executor.
type Generator interface {
	Generate(ctx context.Context, p resilience.Prompt, o resilience.Options) (string, error)
}

type FallbackGenerator interface {
	Generate(cat resilience.Category, p persona.Persona) string
}

// Reply is the outcome of one turn. Category is nil when Succeeded.
type Reply struct {
	Text      string
	Succeeded bool
	Category  resilience.Category
}

type Service struct {
	store     Store
	cache     *contextcache.Manager
	generator Generator
	fallback  FallbackGenerator
	personas  persona.Extractor
	replies   *metrics.ReplyRecorder
	defaults  resilience.Options
	logger    zerolog.Logger

	turns    keyedMutex
	rebuilds singleflight.Group

	// rebuildMu guards the fields below and is held across the staleness
	// check and cache.Put, and across cache.Invalidate. A rebuild that started
	// before an invalidation never repopulates the cache.
	rebuildMu     sync.Mutex
	epoch         uint64
	inFlight      map[string]int
	invalidatedAt map[string]uint64
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithFallback(f FallbackGenerator) Option {
	return func(s *Service) { s.fallback = f }
}

func WithPersonaExtractor(e persona.Extractor) Option {
	return func(s *Service) { s.personas = e }
}

func WithReplyRecorder(r *metrics.ReplyRecorder) Option {
	return func(s *Service) { s.replies = r }
}

// WithDefaultOptions fills zero fields of the per-call options.
func WithDefaultOptions(o resilience.Options) Option {
	return func(s *Service) { s.defaults = o }
}

func NewService(store Store, cache *contextcache.Manager, generator Generator, opts ...Option) *Service {
	s := &Service{
		store:         store,
		cache:         cache,
		generator:     generator,
		fallback:      fallback.New(),
		personas:      persona.NewExtractor(),
		logger:        zerolog.Nop(),
		turns:         keyedMutex{locks: make(map[string]*refMutex)},
		inFlight:      make(map[string]int),
		invalidatedAt: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateReply answers userMessage using the conversation's current context.
// It does not persist anything; see Converse for the full turn.
func (s *Service) GenerateReply(ctx context.Context, conversationID, userMessage string, opts resilience.Options) Reply {
	log := s.logger.With().Str("conversation_id", conversationID).Logger()

	convCtx, err := s.loadContext(ctx, conversationID)
	if err != nil {
		s.cache.RecordError()
		cat := resilience.ServerError{StatusCode: 500}
		log.Error().Err(err).Msg("failed to load conversation context")
		return s.fallbackReply(log, cat, persona.Persona{})
	}

	prompt := resilience.Prompt{
		SystemInstructions: convCtx.SystemInstructions,
		History:            historyFor(convCtx, userMessage),
		UserMessage:        userMessage,
	}
	text, err := s.generator.Generate(ctx, prompt, s.options(opts))
	if err == nil {
		s.replies.Observe(true, "")
		return Reply{Text: text, Succeeded: true}
	}

	p := s.personas.Extract(convCtx.SystemInstructions)
	return s.fallbackReply(log, resilience.CategoryOf(err), p)
}

func (s *Service) fallbackReply(log zerolog.Logger, cat resilience.Category, p persona.Persona) Reply {
	text := s.fallback.Generate(cat, p)
	log.Warn().
		Str("category", cat.Kind().String()).
		Str("relationship", string(p.Relationship)).
		Msg("replying with fallback")
	s.replies.Observe(false, cat.Kind().String())
	return Reply{Text: text, Succeeded: false, Category: cat}
}

// Converse runs a full turn: the user message is persisted, a reply is
// generated, and the reply (real or fallback) is persisted too. The cache
// entry is invalidated after each write. Persistence failures are logged and
// never cost the reply. Turns of one conversation run one at a time, in
// arrival order of the lock.
func (s *Service) Converse(ctx context.Context, conversationID, userMessage string, opts resilience.Options) Reply {
	unlock := s.turns.Lock(conversationID)
	defer unlock()

	log := s.logger.With().Str("conversation_id", conversationID).Logger()

	if err := s.store.AppendTurn(ctx, conversationID, history.RoleUser, userMessage); err != nil {
		log.Error().Err(err).Msg("failed to persist user turn")
	}
	s.Invalidate(conversationID)

	reply := s.GenerateReply(ctx, conversationID, userMessage, opts)

	if err := s.store.AppendTurn(ctx, conversationID, history.RoleAssistant, hints.Strip(reply.Text)); err != nil {
		log.Error().Err(err).Msg("failed to persist assistant turn")
	}
	s.Invalidate(conversationID)
	return reply
}

// Reset drops the stored history of a conversation from future contexts.
func (s *Service) Reset(ctx context.Context, conversationID string) error {
	if err := s.store.Reset(ctx, conversationID); err != nil {
		return fmt.Errorf("reset conversation %s: %w", conversationID, err)
	}
	s.Invalidate(conversationID)
	s.logger.Info().Str("conversation_id", conversationID).Msg("conversation reset")
	return nil
}

// Invalidate forces the next lookup for conversationID to rebuild from the
// store.
func (s *Service) Invalidate(conversationID string) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if s.inFlight[conversationID] > 0 {
		s.epoch++
		s.invalidatedAt[conversationID] = s.epoch
	}
	s.rebuilds.Forget(conversationID)
	s.cache.Invalidate(conversationID)
}

func (s *Service) Stats() contextcache.Stats { return s.cache.Stats() }

func (s *Service) MemoryUsage() int64 { return s.cache.EstimateMemoryUsage() }

func (s *Service) loadContext(ctx context.Context, conversationID string) (history.Context, error) {
	if c, ok := s.cache.Get(conversationID); ok {
		return c, nil
	}

	v, err, _ := s.rebuilds.Do(conversationID, func() (interface{}, error) {
		start := s.beginRebuild(conversationID)
		c, err := s.store.LoadConversationContext(ctx, conversationID)
		s.endRebuild(conversationID, start, c, err)
		if err != nil {
			return history.Context{}, err
		}
		return c, nil
	})
	if err != nil {
		return history.Context{}, err
	}
	return v.(history.Context), nil
}

func (s *Service) beginRebuild(conversationID string) uint64 {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	s.inFlight[conversationID]++
	return s.epoch
}

// endRebuild caches c unless the conversation was invalidated after start.
func (s *Service) endRebuild(conversationID string, start uint64, c history.Context, loadErr error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if loadErr == nil && s.invalidatedAt[conversationID] <= start {
		if err := s.cache.Put(conversationID, c); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to cache conversation context")
		}
	}
	if s.inFlight[conversationID]--; s.inFlight[conversationID] <= 0 {
		delete(s.inFlight, conversationID)
		delete(s.invalidatedAt, conversationID)
	}
}

// pending reports how many conversations still carry rebuild bookkeeping.
func (s *Service) pending() int {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	return len(s.inFlight) + len(s.invalidatedAt)
}

func (s *Service) options(o resilience.Options) resilience.Options {
	if o.MaxTokens == 0 {
		o.MaxTokens = s.defaults.MaxTokens
	}
	if o.Temperature == 0 {
		o.Temperature = s.defaults.Temperature
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = s.defaults.MaxAttempts
	}
	if o.AttemptTimeout == 0 {
		o.AttemptTimeout = s.defaults.AttemptTimeout
	}
	return o
}

// historyFor renders the context as chat history, dropping a trailing user
// turn that repeats userMessage since the prompt appends it anyway.
func historyFor(c history.Context, userMessage string) []llm.Message {
	if n := len(c.RecentTurns); n > 0 {
		last := c.RecentTurns[n-1]
		if last.Role == history.RoleUser && strings.TrimSpace(last.Content) == strings.TrimSpace(userMessage) {
			c.RecentTurns = c.RecentTurns[:n-1]
		}
	}
	return c.Messages()
}
