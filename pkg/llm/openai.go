package llm

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient wraps openai-go as a Client (C5 second concrete
// model-client adapter, typically configured as a fallback provider).
type OpenAIClient struct {
	name            string
	model           string
	client          openai.Client
	costIn, costOut float64
}

// NewOpenAIClient constructs an OpenAIClient for model, authenticated with
// apiKey.
func NewOpenAIClient(name, model, apiKey string, costPerInputTokenMicros, costPerOutputTokenMicros float64) *OpenAIClient {
	return &OpenAIClient{
		name:    name,
		model:   model,
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		costIn:  costPerInputTokenMicros,
		costOut: costPerOutputTokenMicros,
	}
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return c.name }

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	started := time.Now()

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, &ClientError{Kind: ErrorKindInvalid, Err: errors.New("openai: empty choices")}
	}

	tokensIn := int(completion.Usage.PromptTokens)
	tokensOut := int(completion.Usage.CompletionTokens)
	return Response{
		Text:       completion.Choices[0].Message.Content,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		CostMicros: int64(float64(tokensIn)*c.costIn + float64(tokensOut)*c.costOut),
		LatencyMs:  time.Since(started).Milliseconds(),
		ProviderID: "openai:" + c.model,
	}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
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
