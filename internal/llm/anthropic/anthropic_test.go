package anthropic

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
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := map[string]any{
			"id":   "msg_1",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "bonjour"},
			},
			"model":         "claude-3-5-sonnet-20240620",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 1, "output_tokens": 1},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p, err := New("test-key", "", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := llm.TranslateRequest{
		UtteranceID:    uuid.New(),
		Text:           "hello",
		SourceLanguage: "en",
		TargetLanguage: "fr",
	}
	got, err := p.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got.Text != "bonjour" {
		t.Errorf("Text = %q, want %q", got.Text, "bonjour")
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", p.Name())
	}
}

func TestNew_RejectsEmptyKey(t *testing.T) {
	if _, err := New("", "claude-3-5-sonnet-20240620"); err == nil {
		t.Fatalf("expected error for empty apiKey")
	}
}
