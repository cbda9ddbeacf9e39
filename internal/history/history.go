package history

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	turn Turn
	used bool
}

// Store keeps conversation turns in memory. Reset turns are kept but no
// longer used in context.
type Store struct {
	mu                 sync.RWMutex
	sessions           map[string][]entry
	systemInstructions string
	maxTurns           int
	now                func() time.Time
}

func NewStore(systemInstructions string, maxTurns int) *Store {
	return &Store{
		sessions:           make(map[string][]entry),
		systemInstructions: systemInstructions,
		maxTurns:           maxTurns,
		now:                time.Now,
	}
}

func (s *Store) AppendTurn(_ context.Context, conversationID string, role Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Turn{Role: role, Content: content, Timestamp: s.now().UTC().Format(TimestampLayout)}
	s.sessions[conversationID] = append(s.sessions[conversationID], entry{turn: t, used: true})
	return nil
}

func (s *Store) LoadConversationContext(_ context.Context, conversationID string) (Context, error) {
	return NewContext(conversationID, s.systemInstructions, s.Used(conversationID), s.maxTurns), nil
}

func (s *Store) Reset(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.sessions[conversationID]
	for i := range entries {
		entries[i].used = false
	}
	return nil
}

// Used returns only turns still in context.
func (s *Store) Used(conversationID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Turn
	for _, e := range s.sessions[conversationID] {
		if e.used {
			out = append(out, e.turn)
		}
	}
	return out
}

func (s *Store) All(conversationID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es := s.sessions[conversationID]
	out := make([]Turn, 0, len(es))
	for _, e := range es {
		out = append(out, e.turn)
	}
	return out
}
