// Package google adapts Google's Gemini API to the model.Client interface.
package google

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/insightflow/insightflow/model"
)

const defaultModel = "gemini-1.5-flash"

// Client implements model.Client for the Gemini API.
//
// The underlying genai client is created lazily per call because it binds
// to a context; connections are cheap and the SDK caches transport state
// internally.
type Client struct {
	apiKey string
	model  string
}

// New creates a Gemini-backed client. An empty modelName uses the default.
func New(apiKey, modelName string) *Client {
	if modelName == "" {
		modelName = defaultModel
	}
	return &Client{apiKey: apiKey, model: modelName}
}

// Complete implements model.Client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return model.Response{}, fmt.Errorf("failed to create genai client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(c.model)
	if req.Temperature > 0 {
		genModel.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		genModel.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		genModel.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	resp, err := genModel.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return model.Response{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.Response{}, model.ErrEmptyCompletion
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	content := sb.String()
	if content == "" {
		return model.Response{}, model.ErrEmptyCompletion
	}

	out := model.Response{Content: content, Model: c.model}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
