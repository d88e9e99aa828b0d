// Package openai adapts OpenAI's chat completions API to the model.Client
// interface.
package openai

import (
	"context"
	"errors"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/insightflow/insightflow/model"
)

const defaultModel = "gpt-4o-mini"

// Client implements model.Client for the OpenAI chat completions API.
type Client struct {
	client sdk.Client
	model  string
}

// New creates an OpenAI-backed client. An empty modelName uses the default.
// An empty apiKey defers to the SDK's environment lookup (OPENAI_API_KEY).
func New(apiKey, modelName string) *Client {
	if modelName == "" {
		modelName = defaultModel
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &Client{
		client: sdk.NewClient(opts...),
		model:  modelName,
	}
}

// Complete implements model.Client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}

	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, sdk.SystemMessage(req.System))
	}
	messages = append(messages, sdk.UserMessage(req.Prompt))

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Response{}, err
	}
	if len(completion.Choices) == 0 {
		return model.Response{}, errors.New("no choices in completion response")
	}

	content := completion.Choices[0].Message.Content
	if content == "" {
		return model.Response{}, model.ErrEmptyCompletion
	}

	return model.Response{
		Content:      content,
		Model:        c.model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}, nil
}
