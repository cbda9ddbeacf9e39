package history

import (
	"ai-companion/internal/llm"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxTurns bounds ConversationContext.RecentTurns.
const DefaultMaxTurns = 10

// TimestampLayout is how turn timestamps are rendered.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Turn is one immutable conversational message.
type Turn struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Context is the system instructions plus the most recent turns of one
// conversation, oldest first. It is never mutated after construction.
type Context struct {
	ConversationID     string
	SystemInstructions string
	RecentTurns        []Turn
}

// NewContext keeps only the last maxTurns turns (DefaultMaxTurns when <= 0).
func NewContext(conversationID, systemInstructions string, turns []Turn, maxTurns int) Context {
	return Context{
		ConversationID:     conversationID,
		SystemInstructions: systemInstructions,
		RecentTurns:        Window(turns, maxTurns),
	}
}

// Window returns a copy of the last n turns.
func Window(turns []Turn, n int) []Turn {
	if n <= 0 {
		n = DefaultMaxTurns
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Messages renders the recent turns as chat messages.
func (c Context) Messages() []llm.Message {
	out := make([]llm.Message, 0, len(c.RecentTurns))
	for _, t := range c.RecentTurns {
		role := llm.RoleUser
		if t.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Content})
	}
	return out
}
