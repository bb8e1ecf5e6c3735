package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient wraps anthropic-sdk-go as a Client (C5 concrete
// teacher/student model-client adapter).
type AnthropicClient struct {
	name   string
	model  string
	client anthropic.Client
	costIn, costOut float64
}

// NewAnthropicClient constructs an AnthropicClient for model, authenticated
// with apiKey. costPerInputTokenMicros/costPerOutputTokenMicros drive this
// client's Response.CostMicros.
func NewAnthropicClient(name, model, apiKey string, costPerInputTokenMicros, costPerOutputTokenMicros float64) *AnthropicClient {
	return &AnthropicClient{
		name:    name,
		model:   model,
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		costIn:  costPerInputTokenMicros,
		costOut: costPerOutputTokenMicros,
	}
}

// Name implements Client.
func (c *AnthropicClient) Name() string { return c.name }

// Generate implements Client.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	started := time.Now()

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return Response{}, classifyAnthropicError(err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	tokensIn := int(message.Usage.InputTokens)
	tokensOut := int(message.Usage.OutputTokens)
	return Response{
		Text:       text,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		CostMicros: int64(float64(tokensIn)*c.costIn + float64(tokensOut)*c.costOut),
		LatencyMs:  time.Since(started).Milliseconds(),
		ProviderID: "anthropic:" + c.model,
	}, nil
}

// classifyAnthropicError maps the SDK's error shapes onto the registry's
// retry-policy error kinds (spec.md §6: "errors classified as Retryable |
// RateLimited | CircuitOpen | Policy | Invalid | Transport").
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return &ClientError{Kind: ErrorKindRateLimited, Err: err}
		case 500, 502, 503, 504:
			return &ClientError{Kind: ErrorKindRetryable, Err: err}
		case 400, 401, 403, 404:
			return &ClientError{Kind: ErrorKindPolicy, Err: err}
		}
	}
	return &ClientError{Kind: ErrorKindTransport, Err: err}
}
