// Package openai adapts OpenAI's chat completion API to llm.Generator.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

// Generator implements llm.Generator using the official OpenAI Go SDK.
// Safe for concurrent use.
type Generator struct {
	client *openai.Client
	model  string
}

// New creates a GPT-backed Generator. An empty model selects DefaultModel.
func New(apiKey, model string) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
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

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return completion.Choices[0].Message.Content, nil
}
