package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-companion/internal/history"
)

// FileStore persists turns as JSON lines. Safe for concurrent use.
type FileStore struct {
	path               string
	systemInstructions string
	maxTurns           int
	now                func() time.Time
	mu                 sync.Mutex
}

func NewFileStore(path, systemInstructions string, maxTurns int) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure turns dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to init turns file: %w", err)
	}
	_ = f.Close()
	return &FileStore{
		path:               path,
		systemInstructions: systemInstructions,
		maxTurns:           maxTurns,
		now:                time.Now,
	}, nil
}

func (s *FileStore) AppendTurn(_ context.Context, conversationID string, role history.Role, content string) error {
	rec := Record{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open append: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("encode append: %w", err)
	}
	return nil
}

func (s *FileStore) LoadConversationContext(_ context.Context, conversationID string) (history.Context, error) {
	s.mu.Lock()
	records, err := s.readAll()
	s.mu.Unlock()
	if err != nil {
		return history.Context{}, err
	}
	var turns []history.Turn
	for _, r := range records {
		if r.ConversationID == conversationID && r.usable() {
			turns = append(turns, r.turn())
		}
	}
	return history.NewContext(conversationID, s.systemInstructions, turns, s.maxTurns), nil
}

// Reset marks every record of the conversation as out of context.
func (s *FileStore) Reset(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readAll()
	if err != nil {
		return err
	}
	off := false
	for i := range records {
		if records[i].ConversationID == conversationID {
			records[i].InContext = &off
		}
	}
	// rewrite file
	wf, err := os.OpenFile(s.path, os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open write: %w", err)
	}
	defer wf.Close()
	enc := json.NewEncoder(wf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
	}
	return nil
}

// LoadRecords returns every record in file order.
func (s *FileStore) LoadRecords() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *FileStore) readAll() ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open read: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	sc.Buffer(buf, 10*1024*1024)
	var records []Record
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return records, nil
}
