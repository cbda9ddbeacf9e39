// Package app wires configuration into a ready conversation service shared by
// the bot and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"ai-companion/internal/config"
	"ai-companion/internal/contextcache"
	"ai-companion/internal/conversation"
	"ai-companion/internal/hints"
	"ai-companion/internal/history"
	"ai-companion/internal/llm"
	"ai-companion/internal/metrics"
	"ai-companion/internal/resilience"
	"ai-companion/internal/scheduler"
	"ai-companion/internal/storage"
)

type App struct {
	Config        *config.Config
	Logger        zerolog.Logger
	Cache         *contextcache.Manager
	Conversations *conversation.Service
	Metrics       *metrics.Registry
	Scheduler     *scheduler.Scheduler
}

type Option func(*options)

type options struct {
	client llm.Client
}

// WithLLMClient replaces the OpenAI-compatible client built from config.
func WithLLMClient(c llm.Client) Option {
	return func(o *options) { o.client = c }
}

func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	systemPrompt := readSystemPrompt(cfg.SystemPromptPath, logger)

	store, err := newStore(cfg, systemPrompt, logger)
	if err != nil {
		return nil, err
	}

	cacheLogger := logger.With().Str("component", "contextcache").Logger()
	cache, err := contextcache.New(contextcache.Config{
		TTL:     cfg.ContextCacheTTL,
		MaxSize: cfg.ContextCacheMaxSize,
		Logger:  &cacheLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("context cache: %w", err)
	}

	client := o.client
	if client == nil {
		client = llm.NewOpenAI(llm.OpenAIOptions{
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  cfg.OpenAIBaseURL,
			Model:    cfg.OpenAIModel,
			Referrer: cfg.OpenRouterReferrer,
			Title:    cfg.OpenRouterTitle,
		})
	}

	execLogger := logger.With().Str("component", "executor").Logger()
	execOpts := []resilience.ExecutorOption{
		resilience.WithLogger(execLogger),
		resilience.WithBackoff(0, cfg.LLMMaxBackoff),
	}
	if cfg.ReplyHintsEnabled {
		execOpts = append(execOpts, resilience.WithDecorator(hints.NewMoodHinter()))
	}
	if cfg.LLMBreakerEnabled {
		cb := resilience.NewBreaker("llm", cfg.LLMBreakerFailures, cfg.LLMBreakerCooldown, execLogger)
		execOpts = append(execOpts, resilience.WithBreaker(cb))
	}
	executor := resilience.NewExecutor(client, execOpts...)

	reg := metrics.NewRegistry(cache)

	svc := conversation.NewService(store, cache, executor,
		conversation.WithLogger(logger.With().Str("component", "conversation").Logger()),
		conversation.WithReplyRecorder(reg.Replies),
		conversation.WithDefaultOptions(ReplyOptions(cfg)),
	)

	sched := scheduler.New(logger.With().Str("component", "scheduler").Logger())
	if err := sched.AddSweep(cfg.ContextCacheSweep, cache); err != nil {
		return nil, fmt.Errorf("schedule cache sweep %q: %w", cfg.ContextCacheSweep, err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Cache:         cache,
		Conversations: svc,
		Metrics:       reg,
		Scheduler:     sched,
	}, nil
}

// ReplyOptions are the per-turn model options from config.
func ReplyOptions(cfg *config.Config) resilience.Options {
	return resilience.Options{
		MaxTokens:      cfg.LLMMaxTokens,
		Temperature:    cfg.LLMTemperature,
		MaxAttempts:    cfg.LLMMaxAttempts,
		AttemptTimeout: cfg.LLMAttemptTimeout,
	}
}

func newStore(cfg *config.Config, systemPrompt string, logger zerolog.Logger) (conversation.Store, error) {
	if cfg.TurnsFilePath == "" {
		logger.Info().Msg("keeping conversation turns in memory")
		return history.NewStore(systemPrompt, cfg.ContextMaxTurns), nil
	}
	fs, err := storage.NewFileStore(cfg.TurnsFilePath, systemPrompt, cfg.ContextMaxTurns)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", cfg.TurnsFilePath).Msg("persisting conversation turns to file")
	return fs, nil
}

func readSystemPrompt(path string, logger zerolog.Logger) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("system prompt file not found or unreadable")
		return ""
	}
	return string(data)
}

// Start launches background jobs.
func (a *App) Start() {
	a.Scheduler.Start()
}

// ServeMetrics serves /metrics on addr until ctx is done. An empty addr
// disables it.
func (a *App) ServeMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.Logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Close stops background jobs and logs final cache statistics.
func (a *App) Close() {
	a.Scheduler.Stop()
	s := a.Conversations.Stats()
	a.Logger.Info().
		Int64("hits", s.Hits).
		Int64("misses", s.Misses).
		Int64("evictions", s.Evictions).
		Float64("hit_rate", s.HitRate).
		Int64("memory_bytes", a.Conversations.MemoryUsage()).
		Msg("context cache final stats")
}
