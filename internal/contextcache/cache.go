// Package contextcache keeps assembled conversation contexts in process so a
// turn does not have to rebuild them from storage.
//
// Entries live for a fixed TTL and the store holds at most MaxSize of them;
// when full, the oldest-inserted entries go first. Operations on different
// conversations only contend on a shard lock, and a store-wide lock is taken
// exclusively only by cleanup passes and Clear.
package contextcache

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-companion/internal/history"
)

const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 100

	// EntryOverhead approximates the bookkeeping bytes of one entry.
	EntryOverhead = 128

	shardCount = 16
)

var (
	ErrInvalidConfig = errors.New("contextcache: invalid config")
	ErrEmptyKey      = errors.New("contextcache: empty conversation id")
)

type Config struct {
	TTL     time.Duration
	MaxSize int
	Now     func() time.Time
	Logger  *zerolog.Logger
}

// entry is a cached context with its insertion time and sequence.
type entry struct {
	ctx        history.Context
	insertedAt time.Time
	seq        uint64
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type Manager struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	logger  zerolog.Logger

	// storeMu is held shared by per-key operations and exclusively by
	// whole-store passes.
	storeMu sync.RWMutex
	shards  [shardCount]shard

	size atomic.Int64
	seq  atomic.Uint64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	errors    atomic.Int64
}

func New(cfg Config) (*Manager, error) {
	if cfg.TTL < 0 || cfg.MaxSize < 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	m := &Manager{
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
		logger:  logger,
	}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*entry)
	}
	return m, nil
}

func (m *Manager) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

func (m *Manager) expired(e *entry, now time.Time) bool {
	return now.Sub(e.insertedAt) > m.ttl
}

// Get returns a live cached context. Expired entries are removed and reported
// as misses.
func (m *Manager) Get(conversationID string) (history.Context, bool) {
	m.storeMu.RLock()
	defer m.storeMu.RUnlock()

	sh := m.shardFor(conversationID)
	now := m.now()

	sh.mu.RLock()
	e, ok := sh.entries[conversationID]
	if ok && !m.expired(e, now) {
		c := cloneContext(e.ctx)
		sh.mu.RUnlock()
		m.hits.Add(1)
		return c, true
	}
	sh.mu.RUnlock()

	if ok {
		sh.mu.Lock()
		if cur, still := sh.entries[conversationID]; still && cur == e {
			delete(sh.entries, conversationID)
			m.size.Add(-1)
			m.evictions.Add(1)
		}
		sh.mu.Unlock()
	}
	m.misses.Add(1)
	return history.Context{}, false
}

// Put inserts or fully replaces the entry for conversationID. When the store
// is at capacity a cleanup pass runs first, for replacements too.
func (m *Manager) Put(conversationID string, c history.Context) error {
	if conversationID == "" {
		m.errors.Add(1)
		return ErrEmptyKey
	}
	e := &entry{ctx: cloneContext(c)}

	if m.tryPut(conversationID, e) {
		return nil
	}

	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	sh := m.shardFor(conversationID)
	_, exists := sh.entries[conversationID]
	reserve := 1
	if exists {
		reserve = 0
	}
	m.cleanupLocked(reserve)
	m.insertLocked(sh, conversationID, e)
	return nil
}

// tryPut inserts without a cleanup pass while the store is below capacity.
// Replacements and new keys alike fall through to the cleanup path once the
// store is full.
func (m *Manager) tryPut(key string, e *entry) bool {
	m.storeMu.RLock()
	defer m.storeMu.RUnlock()

	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.entries[key]; exists {
		if m.size.Load() >= int64(m.maxSize) {
			return false
		}
	} else {
		for {
			cur := m.size.Load()
			if cur >= int64(m.maxSize) {
				return false
			}
			if m.size.CompareAndSwap(cur, cur+1) {
				break
			}
		}
	}
	e.insertedAt = m.now()
	e.seq = m.seq.Add(1)
	sh.entries[key] = e
	return true
}

// insertLocked requires storeMu held exclusively.
func (m *Manager) insertLocked(sh *shard, key string, e *entry) {
	if _, exists := sh.entries[key]; !exists {
		m.size.Add(1)
	}
	e.insertedAt = m.now()
	e.seq = m.seq.Add(1)
	sh.entries[key] = e
}

// Invalidate drops the entry so the next Get is a miss. It reports whether an
// entry was present.
func (m *Manager) Invalidate(conversationID string) bool {
	m.storeMu.RLock()
	defer m.storeMu.RUnlock()

	sh := m.shardFor(conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[conversationID]; !ok {
		return false
	}
	delete(sh.entries, conversationID)
	m.size.Add(-1)
	return true
}

// Clear removes every entry. Counters are kept.
func (m *Manager) Clear() {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*entry)
	}
	m.size.Store(0)
}

// Cleanup removes expired entries, then the oldest-inserted ones while the
// store is over capacity. It returns how many entries were removed.
func (m *Manager) Cleanup() int {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.cleanupLocked(0)
}

// cleanupLocked leaves room for reserve more entries. Requires storeMu held
// exclusively.
func (m *Manager) cleanupLocked(reserve int) int {
	now := m.now()
	type aged struct {
		key string
		sh  *shard
		seq uint64
	}
	var live []aged
	removed := 0

	for i := range m.shards {
		sh := &m.shards[i]
		for k, e := range sh.entries {
			if m.expired(e, now) {
				delete(sh.entries, k)
				removed++
				continue
			}
			live = append(live, aged{key: k, sh: sh, seq: e.seq})
		}
	}

	limit := m.maxSize - reserve
	if limit < 0 {
		limit = 0
	}
	if over := len(live) - limit; over > 0 {
		sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })
		for _, a := range live[:over] {
			delete(a.sh.entries, a.key)
			removed++
		}
		live = live[over:]
	}

	m.size.Store(int64(len(live)))
	if removed > 0 {
		m.evictions.Add(int64(removed))
		m.logger.Debug().Int("removed", removed).Int("size", len(live)).Msg("context cache cleanup")
	}
	return removed
}

// RecordError counts a failure that happened while serving the cache, such as
// a context rebuild that could not be completed.
func (m *Manager) RecordError() {
	m.errors.Add(1)
}

// Len is the number of stored entries, expired ones included until removed.
func (m *Manager) Len() int {
	return int(m.size.Load())
}

func (m *Manager) TTL() time.Duration { return m.ttl }

func (m *Manager) MaxSize() int { return m.maxSize }

func cloneContext(c history.Context) history.Context {
	if c.RecentTurns == nil {
		return c
	}
	turns := make([]history.Turn, len(c.RecentTurns))
	copy(turns, c.RecentTurns)
	c.RecentTurns = turns
	return c
}
