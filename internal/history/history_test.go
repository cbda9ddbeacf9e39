package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-companion/internal/llm"
)

func TestStoreAppendLoadReset(t *testing.T) {
	ctx := context.Background()
	h := NewStore("Name: Mia", 10)

	require.NoError(t, h.AppendTurn(ctx, "a", RoleUser, "hello"))
	require.NoError(t, h.AppendTurn(ctx, "a", RoleAssistant, "hi"))
	require.NoError(t, h.AppendTurn(ctx, "b", RoleUser, "foo"))

	ca, err := h.LoadConversationContext(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", ca.ConversationID)
	assert.Equal(t, "Name: Mia", ca.SystemInstructions)
	require.Len(t, ca.RecentTurns, 2)
	assert.Equal(t, RoleUser, ca.RecentTurns[0].Role)
	assert.Equal(t, "hi", ca.RecentTurns[1].Content)
	assert.NotEmpty(t, ca.RecentTurns[0].Timestamp)

	// returned context does not alias internal state
	ca.RecentTurns[0].Content = "mutated"
	again, _ := h.LoadConversationContext(ctx, "a")
	assert.Equal(t, "hello", again.RecentTurns[0].Content)

	require.NoError(t, h.Reset(ctx, "a"))
	ca, _ = h.LoadConversationContext(ctx, "a")
	assert.Empty(t, ca.RecentTurns)
	assert.Len(t, h.All("a"), 2)

	cb, _ := h.LoadConversationContext(ctx, "b")
	assert.Len(t, cb.RecentTurns, 1, "reset should not affect other conversations")
}

func TestStore_ContextCappedToMostRecent(t *testing.T) {
	ctx := context.Background()
	h := NewStore("", 3)
	for i := 0; i < 7; i++ {
		require.NoError(t, h.AppendTurn(ctx, "c", RoleUser, fmt.Sprint(i)))
	}

	c, err := h.LoadConversationContext(ctx, "c")
	require.NoError(t, err)
	require.Len(t, c.RecentTurns, 3)
	assert.Equal(t, []string{"4", "5", "6"}, []string{c.RecentTurns[0].Content, c.RecentTurns[1].Content, c.RecentTurns[2].Content})
}

func TestWindow_DefaultCap(t *testing.T) {
	turns := make([]Turn, 25)
	assert.Len(t, Window(turns, 0), DefaultMaxTurns)
	assert.Len(t, Window(turns[:4], 0), 4)
}

func TestContextMessages(t *testing.T) {
	c := Context{RecentTurns: []Turn{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}}}
	assert.Equal(t, []llm.Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}}, c.Messages())
}
