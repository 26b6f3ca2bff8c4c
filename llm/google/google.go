// Package google adapts Google's Gemini API to llm.Generator.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel matches the model the review workflow was originally tuned
// against.
const DefaultModel = "gemini-2.5-flash"

// Generator implements llm.Generator using the official generative-ai-go
// client. Safe for concurrent use.
type Generator struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed Generator. An empty model selects
// DefaultModel.
func New(ctx context.Context, apiKey, model string) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("Google API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &Generator{
		client: client,
		model:  model,
	}, nil
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	model := g.client.GenerativeModel(g.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("google: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("google: empty response")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	if text == "" {
		return "", errors.New("google: no text in response")
	}
	return text, nil
}

// Close releases the underlying client connection.
func (g *Generator) Close() error {
	return g.client.Close()
}
