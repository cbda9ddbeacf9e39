package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSpec runs the cache sweep once a minute.
const DefaultSweepSpec = "@every 1m"

// Cleaner is anything that can drop its stale entries, e.g. the context cache.
type Cleaner interface {
	Cleanup() int
}

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a scheduler on UTC time.
func New(logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// AddJob registers f under the cron spec. Jobs receive a context that is
// cancelled by Stop.
func (s *Scheduler) AddJob(spec, name string, f func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := f(s.ctx); err != nil {
			s.logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		}
	})
	return err
}

// AddSweep schedules periodic cleanup of c. An empty spec means
// DefaultSweepSpec.
func (s *Scheduler) AddSweep(spec string, c Cleaner) error {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	return s.AddJob(spec, "context-cache-sweep", func(context.Context) error {
		if removed := c.Cleanup(); removed > 0 {
			s.logger.Debug().Int("removed", removed).Msg("context cache swept")
		}
		return nil
	})
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
	}
	s.cancel()
	s.logger.Info().Msg("scheduler stopped")
}

// IsRunning reports whether Start was called and Stop was not.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
