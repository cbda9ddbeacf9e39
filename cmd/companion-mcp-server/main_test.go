package main

import (
	"context"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-companion/internal/contextcache"
	"ai-companion/internal/conversation"
	"ai-companion/internal/history"
	"ai-companion/internal/resilience"
)

type staticGenerator struct{ text string }

func (g staticGenerator) Generate(context.Context, resilience.Prompt, resilience.Options) (string, error) {
	return g.text, nil
}

func newTestServer(t *testing.T) (*CompanionMCPServer, *history.Store) {
	t.Helper()
	cache, err := contextcache.New(contextcache.Config{TTL: time.Minute, MaxSize: 10})
	require.NoError(t, err)
	store := history.NewStore("", 10)
	svc := conversation.NewService(store, cache, staticGenerator{text: "hey [[mood:happy]]"})
	return &CompanionMCPServer{conv: svc, logger: zerolog.Nop()}, store
}

func textOf(t *testing.T, res *mcp.CallToolResultFor[any]) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestGenerateReplyTool(t *testing.T) {
	s, store := newTestServer(t)

	res, err := s.GenerateReply(context.Background(), nil, &mcp.CallToolParamsFor[GenerateReplyParams]{
		Arguments: GenerateReplyParams{ConversationID: "c1", Message: "hello"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hey", textOf(t, res))
	assert.Equal(t, true, res.Meta["succeeded"])
	assert.Len(t, store.All("c1"), 2)
}

func TestGenerateReplyTool_RequiresArguments(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.GenerateReply(context.Background(), nil, &mcp.CallToolParamsFor[GenerateReplyParams]{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCacheStatsTool(t *testing.T) {
	s, _ := newTestServer(t)
	_, _ = s.GenerateReply(context.Background(), nil, &mcp.CallToolParamsFor[GenerateReplyParams]{
		Arguments: GenerateReplyParams{ConversationID: "c1", Message: "hello"},
	})

	res, err := s.CacheStats(context.Background(), nil, &mcp.CallToolParamsFor[CacheStatsParams]{})
	require.NoError(t, err)
	assert.Contains(t, textOf(t, res), `"misses": 1`)
	assert.Contains(t, textOf(t, res), `"memory_bytes"`)
}

func TestResetConversationTool(t *testing.T) {
	s, store := newTestServer(t)
	_, _ = s.GenerateReply(context.Background(), nil, &mcp.CallToolParamsFor[GenerateReplyParams]{
		Arguments: GenerateReplyParams{ConversationID: "c1", Message: "hello"},
	})

	res, err := s.ResetConversation(context.Background(), nil, &mcp.CallToolParamsFor[ResetConversationParams]{
		Arguments: ResetConversationParams{ConversationID: "c1"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Empty(t, store.Used("c1"))

	res, err = s.ResetConversation(context.Background(), nil, &mcp.CallToolParamsFor[ResetConversationParams]{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
