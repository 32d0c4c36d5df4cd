package anthropic

import (
	"context"
	"testing"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	src, err := New(Config{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if src.Key() != "anthropic" {
		t.Fatalf("default key = %q", src.Key())
	}
	if src.model != "claude-3-5-sonnet-latest" {
		t.Fatalf("default model = %q", src.model)
	}
	if src.maxTokens != 4096 {
		t.Fatalf("default max tokens = %d", src.maxTokens)
	}
}

func TestInvokeRejectsEmptyMessage(t *testing.T) {
	src, err := New(Config{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := src.Invoke(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for empty message")
	}
}
