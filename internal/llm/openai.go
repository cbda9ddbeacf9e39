package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

type OpenAIOptions struct {
	APIKey   string
	BaseURL  string
	Model    string
	Referrer string
	Title    string

	// Transport overrides http.DefaultTransport, mainly for tests.
	Transport http.RoundTripper
}

func NewOpenAI(opts OpenAIOptions) *OpenAIClient {
	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	// Inject optional headers (useful for OpenRouter)
	if opts.Referrer != "" || opts.Title != "" {
		h := http.Header{}
		if opts.Referrer != "" {
			h.Set("HTTP-Referer", opts.Referrer)
		}
		if opts.Title != "" {
			h.Set("X-Title", opts.Title)
		}
		base = headerTransport{rt: base, headers: h}
	}
	config.HTTPClient = &http.Client{Transport: hintTransport{rt: base, now: time.Now}}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  opts.Model,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	ctx, hint := withResponseHint(ctx)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    oaMsgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		status, retryAfter, hasRetryAfter := hint.get()
		if code := statusCodeOf(err); code > 0 {
			status = code
		}
		if status > 0 {
			return Response{}, &StatusError{StatusCode: status, RetryAfter: retryAfter, HasRetryAfter: hasRetryAfter, Err: err}
		}
		return Response{}, fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Response{}, ErrMalformedResponse
	}

	return Response{
		Content:          resp.Choices[0].Message.Content,
		Model:            c.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func statusCodeOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
