package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-companion/internal/contextcache"
	"ai-companion/internal/conversation"
	"ai-companion/internal/resilience"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	actions int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.sent = append(f.sent, m)
	case tgbotapi.ChatActionConfig:
		f.actions++
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

type fakeConversations struct {
	reply    conversation.Reply
	resetErr error

	conversed []string
	resets    []string
}

func (f *fakeConversations) Converse(_ context.Context, id, msg string, _ resilience.Options) conversation.Reply {
	f.conversed = append(f.conversed, id+":"+msg)
	return f.reply
}

func (f *fakeConversations) Reset(_ context.Context, id string) error {
	f.resets = append(f.resets, id)
	return f.resetErr
}

func (f *fakeConversations) Stats() contextcache.Stats {
	return contextcache.Stats{Hits: 3, Misses: 1, Size: 2, HitRate: 0.75}
}

func (f *fakeConversations) MemoryUsage() int64 { return 4096 }

func newTestBot(conv Conversations, opts Options) (*Bot, *fakeSender) {
	fs := &fakeSender{}
	opts.Logger = zerolog.Nop()
	return newBot(fs, conv, opts), fs
}

func textMessage(userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{From: &tgbotapi.User{ID: userID}, Chat: &tgbotapi.Chat{ID: userID + 1000}, Text: text}
}

func commandMessage(userID int64, cmd string) *tgbotapi.Message {
	m := textMessage(userID, "/"+cmd)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd) + 1}}
	return m
}

func TestHandleIncomingMessage_RepliesWithoutHints(t *testing.T) {
	conv := &fakeConversations{reply: conversation.Reply{Text: "hi <there> [[mood:happy]]", Succeeded: true}}
	b, fs := newTestBot(conv, Options{AllowedUsers: []int64{42}, ParseMode: tgbotapi.ModeHTML})

	b.handleIncomingMessage(context.Background(), textMessage(42, "hello"))

	require.Equal(t, []string{"tg-42:hello"}, conv.conversed)
	require.Len(t, fs.sent, 1)
	assert.Equal(t, "hi &lt;there&gt;", fs.sent[0].Text)
	assert.Equal(t, tgbotapi.ModeHTML, fs.sent[0].ParseMode)
	assert.Equal(t, int64(1042), fs.sent[0].ChatID)
	assert.NotNil(t, fs.sent[0].ReplyMarkup)
	assert.Equal(t, 1, fs.actions)
}

func TestHandleIncomingMessage_FallbackStillSent(t *testing.T) {
	conv := &fakeConversations{reply: conversation.Reply{Text: "brb", Category: resilience.Timeout{}}}
	b, fs := newTestBot(conv, Options{})

	b.handleIncomingMessage(context.Background(), textMessage(7, "hello"))

	assert.Equal(t, []string{"brb"}, fs.texts())
}

func TestHandleIncomingMessage_RejectsUnknownUsers(t *testing.T) {
	conv := &fakeConversations{}
	b, fs := newTestBot(conv, Options{AllowedUsers: []int64{1}, AdminUserID: 2})

	b.handleIncomingMessage(context.Background(), textMessage(3, "hello"))

	assert.Empty(t, conv.conversed)
	assert.Equal(t, []string{"Sorry, this bot is private."}, fs.texts())
}

func TestHandleIncomingMessage_AdminAlwaysAllowed(t *testing.T) {
	conv := &fakeConversations{reply: conversation.Reply{Text: "ok", Succeeded: true}}
	b, _ := newTestBot(conv, Options{AllowedUsers: []int64{1}, AdminUserID: 2})

	b.handleIncomingMessage(context.Background(), textMessage(2, "hello"))

	assert.Equal(t, []string{"tg-2:hello"}, conv.conversed)
}

func TestHandleIncomingMessage_IgnoresEmptyText(t *testing.T) {
	conv := &fakeConversations{}
	b, fs := newTestBot(conv, Options{})

	b.handleIncomingMessage(context.Background(), textMessage(1, "   "))

	assert.Empty(t, conv.conversed)
	assert.Empty(t, fs.texts())
}

func TestResetCommandAndButton(t *testing.T) {
	conv := &fakeConversations{}
	b, fs := newTestBot(conv, Options{})

	b.handleIncomingMessage(context.Background(), commandMessage(5, "reset"))
	b.handleCallback(context.Background(), &tgbotapi.CallbackQuery{
		From:    &tgbotapi.User{ID: 5},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1005}},
		Data:    resetCmd,
	})

	assert.Equal(t, []string{"tg-5", "tg-5"}, conv.resets)
	assert.Equal(t, []string{"Context cleared.", "Context cleared."}, fs.texts())
}

func TestResetCommand_Error(t *testing.T) {
	conv := &fakeConversations{resetErr: errors.New("boom")}
	b, fs := newTestBot(conv, Options{})

	b.handleIncomingMessage(context.Background(), commandMessage(5, "reset"))

	assert.Equal(t, []string{"Could not reset the conversation, please try again."}, fs.texts())
}

func TestStatsCommand_AdminOnly(t *testing.T) {
	conv := &fakeConversations{}
	b, fs := newTestBot(conv, Options{AdminUserID: 9})

	b.handleIncomingMessage(context.Background(), commandMessage(8, "stats"))
	b.handleIncomingMessage(context.Background(), commandMessage(9, "stats"))

	texts := fs.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "This command is for the administrator only.", texts[0])
	assert.Contains(t, texts[1], "entries: 2")
	assert.Contains(t, texts[1], "hit rate 75.0%")
	assert.Contains(t, texts[1], "memory: ~4096 bytes")
}

func TestSendMessage_EscapesForParseMode(t *testing.T) {
	b, fs := newTestBot(&fakeConversations{}, Options{ParseMode: tgbotapi.ModeMarkdownV2})
	b.sendMessage(1, "done.", nil)
	assert.Equal(t, []string{`done\.`}, fs.texts())

	b, fs = newTestBot(&fakeConversations{}, Options{ParseMode: "Plain"})
	b.sendMessage(1, "a < b", nil)
	assert.Equal(t, []string{"a < b"}, fs.texts())
}
