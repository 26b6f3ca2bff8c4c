package openai

import "testing"

func TestNew(t *testing.T) {
	t.Run("creates generator with API key", func(t *testing.T) {
		g, err := New("test-api-key", "gpt-4o-mini")
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if g.model != "gpt-4o-mini" {
			t.Errorf("unexpected model: %s", g.model)
		}
	})

	t.Run("empty model selects default", func(t *testing.T) {
		g, err := New("test-api-key", "")
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if g.model != DefaultModel {
			t.Errorf("expected %s, got %s", DefaultModel, g.model)
		}
	})

	t.Run("requires API key", func(t *testing.T) {
		if _, err := New("", ""); err == nil {
			t.Error("expected an error without an API key")
		}
	})
}
