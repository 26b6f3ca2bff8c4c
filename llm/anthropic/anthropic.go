// Package anthropic adapts Anthropic's Claude API to llm.Generator.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Generator implements llm.Generator using the official anthropic-sdk-go
// client. Safe for concurrent use; the underlying SDK client handles
// concurrent requests.
type Generator struct {
	client *anthropic.Client
	model  string
}

// New creates a Claude-backed Generator. An empty model selects
// DefaultModel. The API key can be obtained from
// https://console.anthropic.com/.
func New(apiKey, model string) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Generator{
		client: &client,
		model:  model,
	}, nil
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", errors.New("anthropic: empty response")
	}
	return text, nil
}
