package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Request is one completion call against the remote endpoint.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client performs a single remote exchange. Implementations must not retry;
// retries belong to the resilience layer.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
