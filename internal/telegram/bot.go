// Package telegram is the chat front end: it maps Telegram updates onto
// conversation turns and renders replies.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"ai-companion/internal/contextcache"
	"ai-companion/internal/conversation"
	"ai-companion/internal/hints"
	"ai-companion/internal/resilience"
)

const resetCmd = "reset_ctx"

// Conversations is the part of conversation.Service the bot drives.
type Conversations interface {
	Converse(ctx context.Context, conversationID, userMessage string, opts resilience.Options) conversation.Reply
	Reset(ctx context.Context, conversationID string) error
	Stats() contextcache.Stats
	MemoryUsage() int64
}

type Options struct {
	// AllowedUsers restricts who may talk to the bot. Empty means everyone.
	AllowedUsers []int64
	AdminUserID  int64
	ParseMode    string
	Reply        resilience.Options
	Logger       zerolog.Logger
}

type Bot struct {
	api         *tgbotapi.BotAPI
	s           sender
	conv        Conversations
	allowed     map[int64]bool
	adminUserID int64
	parseMode   string
	replyOpts   resilience.Options
	logger      zerolog.Logger
}

func New(botToken string, conv Conversations, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	b := newBot(botAPISender{api: api}, conv, opts)
	b.api = api
	return b, nil
}

func newBot(s sender, conv Conversations, opts Options) *Bot {
	allowed := make(map[int64]bool, len(opts.AllowedUsers))
	for _, id := range opts.AllowedUsers {
		allowed[id] = true
	}
	return &Bot{
		s:           s,
		conv:        conv,
		allowed:     allowed,
		adminUserID: opts.AdminUserID,
		parseMode:   opts.ParseMode,
		replyOpts:   opts.Reply,
		logger:      opts.Logger,
	}
}

// Start polls for updates until ctx is done. Each message is handled in its
// own goroutine.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.api.Self.UserName).Msg("telegram bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleIncomingMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func conversationID(userID int64) string {
	return fmt.Sprintf("tg-%d", userID)
}

func (b *Bot) isAllowed(userID int64) bool {
	return len(b.allowed) == 0 || b.allowed[userID] || (b.adminUserID != 0 && userID == b.adminUserID)
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	log := b.logger.With().Int64("user_id", msg.From.ID).Str("username", msg.From.UserName).Logger()

	if !b.isAllowed(msg.From.ID) {
		log.Warn().Msg("unauthorized access attempt")
		b.sendMessage(msg.Chat.ID, "Sorry, this bot is private.", nil)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	log.Debug().Str("text", text).Msg("incoming message")
	_, _ = b.s.Send(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping))

	reply := b.conv.Converse(ctx, conversationID(msg.From.ID), text, b.replyOpts)
	if !reply.Succeeded {
		log.Warn().Str("category", reply.Category.Kind().String()).Msg("sent fallback reply")
	}
	b.sendMessage(msg.Chat.ID, hints.Strip(reply.Text), resetKeyboard())
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, "Hi! Just write to me. Use /reset to start over.", resetKeyboard())
	case "reset":
		b.resetConversation(ctx, msg.Chat.ID, msg.From.ID)
	case "stats":
		if msg.From.ID != b.adminUserID {
			b.sendMessage(msg.Chat.ID, "This command is for the administrator only.", nil)
			return
		}
		b.sendMessage(msg.Chat.ID, formatStats(b.conv.Stats(), b.conv.MemoryUsage()), nil)
	default:
		b.sendMessage(msg.Chat.ID, "Unknown command.", nil)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	if cb.Data == resetCmd && b.isAllowed(cb.From.ID) {
		b.resetConversation(ctx, cb.Message.Chat.ID, cb.From.ID)
	}
}

func (b *Bot) resetConversation(ctx context.Context, chatID, userID int64) {
	if err := b.conv.Reset(ctx, conversationID(userID)); err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to reset conversation")
		b.sendMessage(chatID, "Could not reset the conversation, please try again.", nil)
		return
	}
	b.sendMessage(chatID, "Context cleared.", nil)
}

func formatStats(s contextcache.Stats, memory int64) string {
	var bld strings.Builder
	bld.WriteString("Context cache\n")
	fmt.Fprintf(&bld, "entries: %d\n", s.Size)
	fmt.Fprintf(&bld, "hits: %d, misses: %d (hit rate %.1f%%)\n", s.Hits, s.Misses, s.HitRate*100)
	fmt.Fprintf(&bld, "evictions: %d, errors: %d\n", s.Evictions, s.Errors)
	fmt.Fprintf(&bld, "memory: ~%d bytes", memory)
	return bld.String()
}

func resetKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Reset context", resetCmd),
		),
	)
	return &kb
}

func (b *Bot) escapeIfNeeded(text string) string {
	switch b.parseMode {
	case tgbotapi.ModeHTML, tgbotapi.ModeMarkdown, tgbotapi.ModeMarkdownV2:
		return tgbotapi.EscapeText(b.parseMode, text)
	default:
		return text
	}
}

func (b *Bot) sendMessage(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, b.escapeIfNeeded(text))
	msg.ParseMode = b.parseMode
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	if _, err := b.s.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send message")
	}
}
