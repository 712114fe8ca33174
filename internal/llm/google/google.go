// Package google implements a translation llm.Provider backed by the real
// google.golang.org/genai SDK. The teacher's own pkg/providers/llm/google.go
// hand-rolls a raw net/http POST against the v1beta generateContent REST
// endpoint; this package keeps the same role-mapping and prompt shape but
// drives it through the SDK client instead.
package google

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/lokutor-ai/lokutor-relay/internal/llm"
)

// Provider translates text via genai's GenerateContent call.
type Provider struct {
	client *genai.Client
	model  string
}

// Option configures a Provider at construction time.
type Option func(*genai.ClientConfig)

// WithBaseURL overrides the API base URL. Primarily used in tests to point
// at a local mock server.
func WithBaseURL(url string) Option {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPOptions.BaseURL = url
	}
}

// New constructs a Provider. model is a Gemini model name, e.g.
// "gemini-1.5-flash".
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google: apiKey must not be empty")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, o := range opts {
		o(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("google: new client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Translate(ctx context.Context, req llm.TranslateRequest) (llm.Translation, error) {
	prompt := buildPrompt(req)

	var config *genai.GenerateContentConfig
	if req.SystemPrompt != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), config)
	if err != nil {
		return llm.Translation{}, fmt.Errorf("google: generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return llm.Translation{}, fmt.Errorf("google: empty response")
	}

	return llm.Translation{UtteranceID: req.UtteranceID, Text: text}, nil
}

func (p *Provider) Close() error {
	return nil
}

func (p *Provider) Name() string {
	return "google"
}

func buildPrompt(req llm.TranslateRequest) string {
	var b strings.Builder
	if req.Context != "" {
		b.WriteString(req.Context)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Translate from %s to %s:\n%s", req.SourceLanguage, req.TargetLanguage, req.Text)
	return b.String()
}
