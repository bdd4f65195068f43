package adapter

import (
	"context"
	"testing"
)

// TestLLMAdapter_Generate requires a running LiteLLM instance
// This is a basic integration test
func TestLLMAdapter_Generate(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	adapter := NewLLMAdapter("http://localhost:4000", "", "openrouter/anthropic/claude-3.5-sonnet", "text-embedding-3-small")

	ctx := context.Background()
	systemPrompt := "You are a helpful assistant."
	userMsg := "Say hello in one sentence."

	response, err := adapter.Generate(ctx, systemPrompt, userMsg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if response == "" {
		t.Error("Expected non-empty content in response")
	}
}

func TestLLMAdapter_Embed(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	adapter := NewLLMAdapter("http://localhost:4000", "", "openrouter/anthropic/claude-3.5-sonnet", "text-embedding-3-small")

	vec, err := adapter.Embed(context.Background(), "a note about coffee")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) == 0 {
		t.Error("Expected non-empty embedding vector")
	}
}

func TestLLMAdapter_SetModel(t *testing.T) {
	adapter := NewLLMAdapter("http://localhost:4000", "", "model-a", "embed-a")

	adapter.SetModel("model-b")
	if got := adapter.GetModel(); got != "model-b" {
		t.Errorf("Expected model-b, got %s", got)
	}

	// Empty model is ignored
	adapter.SetModel("")
	if got := adapter.GetModel(); got != "model-b" {
		t.Errorf("Expected model-b after empty update, got %s", got)
	}
}
