// Package anthropic adapts Anthropic's Claude API to the model.Client
// interface.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/insightflow/insightflow/model"
)

const defaultModel = "claude-sonnet-4-20250514"

// Client implements model.Client for the Anthropic Messages API.
type Client struct {
	client sdk.Client
	model  string
}

// New creates a Claude-backed client. An empty modelName uses the default.
// An empty apiKey defers to the SDK's environment lookup
// (ANTHROPIC_API_KEY).
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

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return model.Response{}, err
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := sb.String()
	if content == "" {
		return model.Response{}, model.ErrEmptyCompletion
	}

	return model.Response{
		Content:      content,
		Model:        c.model,
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}
