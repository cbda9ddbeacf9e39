package app

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-companion/internal/config"
	"ai-companion/internal/fallback"
	"ai-companion/internal/persona"
	"ai-companion/internal/resilience"
)

const completion = `{"id":"c1","object":"chat.completion","created":1,"model":"m",
"choices":[{"index":0,"message":{"role":"assistant","content":"hello back"},"finish_reason":"stop"}],
"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	prompt := filepath.Join(dir, "prompt.txt")
	require.NoError(t, os.WriteFile(prompt, []byte("Name: Mia\nRelationship: friend\n"), 0o644))

	t.Setenv("OPENAI_API_KEY", "test")
	t.Setenv("OPENAI_BASE_URL", baseURL)
	t.Setenv("SYSTEM_PROMPT_PATH", prompt)
	t.Setenv("TURNS_FILE_PATH", filepath.Join(dir, "turns.jsonl"))
	t.Setenv("REPLY_HINTS_ENABLED", "false")
	t.Setenv("LLM_MAX_ATTEMPTS", "1")

	cfg, err := config.Parse()
	require.NoError(t, err)
	return cfg
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestApp_ConverseOverHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	a, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	a.Start()
	defer a.Close()

	ctx := context.Background()
	for _, msg := range []string{"hi", "how are you"} {
		reply := a.Conversations.Converse(ctx, "conv-1", msg, resilience.Options{})
		assert.True(t, reply.Succeeded)
		assert.Equal(t, "hello back", reply.Text)
	}

	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, 4, countLines(t, cfg.TurnsFilePath))
	assert.True(t, a.Scheduler.IsRunning())
}

func TestApp_ServerErrorFallsBackToPersona(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a, err := New(testConfig(t, srv.URL), zerolog.Nop())
	require.NoError(t, err)

	reply := a.Conversations.GenerateReply(context.Background(), "conv-1", "hi", resilience.Options{})

	assert.False(t, reply.Succeeded)
	assert.Equal(t, resilience.ServerError{StatusCode: 503}, reply.Category)
	assert.Contains(t, fallback.Pool(persona.RelationshipFriend, fallback.FailureGeneric), reply.Text)
}

func TestApp_InMemoryStoreAndBadSweep(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.TurnsFilePath = ""
	_, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	cfg.ContextCacheSweep = "every now and then"
	_, err = New(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestReplyOptions(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	o := ReplyOptions(cfg)
	assert.Equal(t, 512, o.MaxTokens)
	assert.Equal(t, 1, o.MaxAttempts)
	assert.Equal(t, cfg.LLMAttemptTimeout, o.AttemptTimeout)
}

func TestServeMetrics_DisabledWithoutAddr(t *testing.T) {
	a, err := New(testConfig(t, "http://127.0.0.1:0"), zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, a.ServeMetrics(context.Background(), ""))
}
