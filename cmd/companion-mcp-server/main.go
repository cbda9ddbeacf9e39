package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"ai-companion/internal/app"
	"ai-companion/internal/config"
	"ai-companion/internal/conversation"
	"ai-companion/internal/hints"
	"ai-companion/internal/logging"
	"ai-companion/internal/resilience"
)

// GenerateReplyParams are the arguments of the generate_reply tool.
type GenerateReplyParams struct {
	ConversationID string `json:"conversation_id" mcp:"conversation identifier; turns are stored under it"`
	Message        string `json:"message" mcp:"the user's message"`
}

type CacheStatsParams struct{}

type ResetConversationParams struct {
	ConversationID string `json:"conversation_id" mcp:"conversation identifier to reset"`
}

// CompanionMCPServer exposes the conversation service as MCP tools.
type CompanionMCPServer struct {
	conv   *conversation.Service
	opts   resilience.Options
	logger zerolog.Logger
}

func (s *CompanionMCPServer) GenerateReply(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[GenerateReplyParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	if strings.TrimSpace(args.ConversationID) == "" || strings.TrimSpace(args.Message) == "" {
		return errorResult("conversation_id and message are required"), nil
	}

	reply := s.conv.Converse(ctx, args.ConversationID, args.Message, s.opts)
	meta := map[string]interface{}{"succeeded": reply.Succeeded}
	if reply.Category != nil {
		meta["category"] = reply.Category.Kind().String()
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: hints.Strip(reply.Text)},
		},
		Meta: meta,
	}, nil
}

func (s *CompanionMCPServer) CacheStats(_ context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[CacheStatsParams]) (*mcp.CallToolResultFor[any], error) {
	out := struct {
		Cache       interface{} `json:"cache"`
		MemoryBytes int64       `json:"memory_bytes"`
	}{Cache: s.conv.Stats(), MemoryBytes: s.conv.MemoryUsage()}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode stats: %v", err)), nil
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func (s *CompanionMCPServer) ResetConversation(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ResetConversationParams]) (*mcp.CallToolResultFor[any], error) {
	id := strings.TrimSpace(params.Arguments.ConversationID)
	if id == "" {
		return errorResult("conversation_id is required"), nil
	}
	if err := s.conv.Reset(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("conversation_id", id).Msg("reset failed")
		return errorResult(fmt.Sprintf("failed to reset conversation: %v", err)), nil
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("conversation %s reset", id)}},
	}, nil
}

func errorResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func main() {
	envErr := godotenv.Load(".env")

	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the MCP protocol, so logs always go to stderr.
	logger := logging.New(cfg.LogLevel, false)
	if envErr != nil {
		logger.Debug().Err(envErr).Msg(".env file not found")
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build app")
	}
	a.Start()
	defer a.Close()

	companion := &CompanionMCPServer{
		conv:   a.Conversations,
		opts:   app.ReplyOptions(cfg),
		logger: logger.With().Str("component", "mcp").Logger(),
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "companion-mcp-server", Version: "1.0.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_reply",
		Description: "Send a user message to the companion and get its reply. Always returns text; a fallback reply is used when the model is unavailable.",
	}, companion.GenerateReply)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "cache_stats",
		Description: "Report context cache statistics and approximate memory usage.",
	}, companion.CacheStats)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_conversation",
		Description: "Drop a conversation's history from future context.",
	}, companion.ResetConversation)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Msg("companion MCP server listening on stdio")
	if err := server.Run(ctx, mcp.NewStdioTransport()); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("mcp server stopped")
	}
}
