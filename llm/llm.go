// Package llm abstracts the language-model call behind a minimal
// prompt-to-text interface.
package llm

import "context"

// Generator produces text from a prompt.
//
// Implementations wrap provider SDKs (Anthropic, OpenAI, Google). Calls may
// fail or time out and are paid per invocation; the workflow engine caches
// step results precisely so a generation that already succeeded is never
// re-triggered by the retry of an unrelated step.
//
// Implementations should:
//   - Respect context cancellation and timeouts
//   - Return plain errors the retry policy can act on
//   - Be safe for concurrent use
type Generator interface {
	// Generate sends the prompt to the model and returns the response
	// text.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider names recognized in configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)
