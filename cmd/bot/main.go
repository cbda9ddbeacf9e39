package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ai-companion/internal/app"
	"ai-companion/internal/config"
	"ai-companion/internal/logging"
	"ai-companion/internal/telegram"
)

func main() {
	envErr := godotenv.Load(".env")

	cfg := config.New()
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	if envErr != nil {
		logger.Warn().Err(envErr).Msg(".env file not found")
	}
	if cfg.TelegramBotToken == "" {
		logger.Fatal().Msg("TELEGRAM_BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build app")
	}
	a.Start()
	defer a.Close()

	go func() {
		if err := a.ServeMetrics(ctx, cfg.MetricsAddr); err != nil {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	bot, err := telegram.New(cfg.TelegramBotToken, a.Conversations, telegram.Options{
		AllowedUsers: cfg.AllowedUsers,
		AdminUserID:  cfg.AdminUserID,
		ParseMode:    cfg.MessageParseMode,
		Reply:        app.ReplyOptions(cfg),
		Logger:       logger.With().Str("component", "telegram").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create bot")
	}

	bot.Start(ctx)
}
