package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-relay/internal/llm"
)

func TestProvider_Translate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role":  "model",
						"parts": []map[string]any{{"text": "ciao"}},
					},
					"finishReason": "STOP",
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p, err := New(context.Background(), "test-key", "", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := llm.TranslateRequest{
		UtteranceID:    uuid.New(),
		Text:           "hello",
		SourceLanguage: "en",
		TargetLanguage: "it",
	}
	got, err := p.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got.Text != "ciao" {
		t.Errorf("Text = %q, want %q", got.Text, "ciao")
	}
	if p.Name() != "google" {
		t.Errorf("Name() = %q, want google", p.Name())
	}
}

func TestNew_RejectsEmptyKey(t *testing.T) {
	if _, err := New(context.Background(), "", "gemini-1.5-flash"); err == nil {
		t.Fatalf("expected error for empty apiKey")
	}
}
