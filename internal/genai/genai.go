// Package genai provides LLM-backed operations using the OpenAI API.
//
// EnrollPipe uses the model for exactly one job: extracting registration
// field values from free-form user messages via a function tool. Reply
// wording comes from the static catalog in the flow package, never from the
// model.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = openai.ChatModelGPT4oMini
	// DefaultRequestTimeout bounds each completion call.
	DefaultRequestTimeout = 30 * time.Second
)

// ToolCall represents a single tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolCallResponse carries the model's reply content and any tool calls.
type ToolCallResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// ClientInterface defines the GenAI operations used by the flow package.
// Implementations must be safe for concurrent use.
type ClientInterface interface {
	// GenerateWithTools produces a completion with tool definitions attached
	// and returns any tool calls the model made.
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	// APIKey for the OpenAI API. Falls back to OPENAI_API_KEY.
	APIKey string
	// Model identifier. Defaults to DefaultModel.
	Model string
}

// Option configures GenAI client options.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the model used for completions.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion API.
type Client struct {
	client openai.Client
	model  string
}

var _ ClientInterface = (*Client)(nil)

// NewClient initializes a GenAI client. The API key is taken from options or
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	slog.Debug("genai.NewClient: client initialized", "model", model)

	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// GenerateWithTools produces a completion with tool definitions attached.
func (c *Client) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		slog.Error("genai.GenerateWithTools: completion failed", "error", err)
		return nil, fmt.Errorf("chat completion with tools failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.GenerateWithTools: no choices returned")
		return nil, fmt.Errorf("no choices returned")
	}

	msg := resp.Choices[0].Message
	out := &ToolCallResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	slog.Debug("genai.GenerateWithTools: completion succeeded", "tool_calls", len(out.ToolCalls))
	return out, nil
}

// MockClient is a test double that returns canned responses.
type MockClient struct {
	// ToolResponse returned by GenerateWithTools.
	ToolResponse *ToolCallResponse
	// Err, when set, is returned by every call.
	Err error
	// Calls counts invocations.
	Calls int
}

var _ ClientInterface = (*MockClient)(nil)

// GenerateWithTools returns the canned tool response.
func (m *MockClient) GenerateWithTools(_ context.Context, _ []openai.ChatCompletionMessageParamUnion, _ []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if m.ToolResponse != nil {
		return m.ToolResponse, nil
	}
	return &ToolCallResponse{}, nil
}
