package main

import (
	"testing"

	"github.com/quantum-box/ai-talk/pkg/voice"
)

func TestCompletedLines(t *testing.T) {
	items := []voice.Item{
		{ID: "a", Role: voice.RoleUser, Status: voice.StatusCompleted, Transcript: "hello"},
		{ID: "b", Role: voice.RoleAssistant, Status: voice.StatusPending, Transcript: "Hi th"},
		{ID: "c", Role: voice.RoleAssistant, Status: voice.StatusCompleted, Transcript: "  "},
	}
	printed := map[string]bool{}

	lines := completedLines(items, printed)
	if len(lines) != 1 {
		t.Fatalf("expected only the completed non-empty item, got %v", lines)
	}
	if lines[0] != "[user] hello" {
		t.Errorf("expected %q, got %q", "[user] hello", lines[0])
	}

	// Already-printed items stay printed; the pending item prints once
	// it completes.
	items[1].Status = voice.StatusCompleted
	items[1].Transcript = "Hi there"
	lines = completedLines(items, printed)
	if len(lines) != 1 || lines[0] != "[assistant] Hi there" {
		t.Errorf("expected just the newly completed item, got %v", lines)
	}
	if lines = completedLines(items, printed); len(lines) != 0 {
		t.Errorf("expected nothing new to print, got %v", lines)
	}
}

func TestBuildClient(t *testing.T) {
	t.Run("websocket", func(t *testing.T) {
		if _, err := buildClient("ws", "ws://localhost:9999/session", ""); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("websocket without url", func(t *testing.T) {
		if _, err := buildClient("ws", "", ""); err == nil {
			t.Error("expected an error without a session URL")
		}
	})

	t.Run("gemini without key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		if _, err := buildClient("gemini", "", ""); err == nil {
			t.Error("expected an error without an API key")
		}
	})

	t.Run("gemini", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "test-key")
		if _, err := buildClient("gemini", "", "some-model"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		if _, err := buildClient("carrier-pigeon", "", ""); err == nil {
			t.Error("expected an error for an unknown backend")
		}
	})
}
