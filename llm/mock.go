package llm

import (
	"context"
	"sync"
)

// Mock is a test implementation of Generator.
//
// Use Mock in tests to verify workflow behavior without making actual LLM
// API calls. It provides configurable responses, error injection, and call
// history tracking, and is safe for concurrent use.
//
// Example:
//
//	mock := &llm.Mock{Responses: []string{"looks good"}}
//	text, err := mock.Generate(ctx, prompt)
//	// text == "looks good"; mock.Calls records the prompt
type Mock struct {
	// Responses is the sequence of responses to return. Each call
	// returns the next response; once consumed, the last one repeats.
	Responses []string

	// Err, if set, is returned instead of a response.
	Err error

	// Calls records every prompt passed to Generate.
	Calls []string

	mu        sync.Mutex
	callIndex int
}

// Generate implements Generator.
func (m *Mock) Generate(ctx context.Context, prompt string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, prompt)

	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", nil
	}

	resp := m.Responses[m.callIndex]
	if m.callIndex < len(m.Responses)-1 {
		m.callIndex++
	}
	return resp, nil
}

// CallLog returns a copy of the prompts passed to Generate so far.
func (m *Mock) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}
