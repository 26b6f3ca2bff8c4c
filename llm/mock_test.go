package llm

import (
	"context"
	"errors"
	"testing"
)

func TestMock_Responses(t *testing.T) {
	mock := &Mock{Responses: []string{"first", "second"}}
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second", "second"} {
		got, err := mock.Generate(ctx, "prompt")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}

	if calls := mock.CallLog(); len(calls) != 4 || calls[0] != "prompt" {
		t.Errorf("unexpected call log: %v", calls)
	}
}

func TestMock_Err(t *testing.T) {
	wantErr := errors.New("rate limited")
	mock := &Mock{Err: wantErr}

	if _, err := mock.Generate(context.Background(), "p"); !errors.Is(err, wantErr) {
		t.Errorf("expected injected error, got %v", err)
	}
}

func TestMock_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &Mock{Responses: []string{"never"}}
	if _, err := mock.Generate(ctx, "p"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context error, got %v", err)
	}
}
