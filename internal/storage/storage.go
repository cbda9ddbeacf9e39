package storage

import (
	"time"

	"ai-companion/internal/history"
)

// Record is a single persisted conversation turn.
// Records are appended in chronological order; a conversation's context is
// assembled from its most recent records that are still in context.
// InContext is nil for records written before any reset, which counts as true.
type Record struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           history.Role `json:"role"`
	Content        string       `json:"content"`
	Timestamp      time.Time    `json:"timestamp"`
	InContext      *bool        `json:"in_context,omitempty"`
}

func (r Record) usable() bool { return r.InContext == nil || *r.InContext }

func (r Record) turn() history.Turn {
	return history.Turn{Role: r.Role, Content: r.Content, Timestamp: r.Timestamp.UTC().Format(history.TimestampLayout)}
}
