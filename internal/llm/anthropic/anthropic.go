// Package anthropic implements a translation llm.Provider backed by the
// real anthropic-sdk-go SDK, grounded in
// NeboLoop-nebo/internal/agent/ai/api_anthropic.go (client construction,
// message building, system prompt wiring) — the teacher's own
// pkg/providers/llm/anthropic.go instead hand-rolls a raw net/http POST
// against the Messages API, which this package replaces with the SDK.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lokutor-ai/lokutor-relay/internal/llm"
)

const defaultMaxTokens = 1024

// Provider translates text via the Messages API.
type Provider struct {
	client anthropic.Client
	model  string
}

// Option configures a Provider at construction time.
type Option func(*[]option.RequestOption)

// WithBaseURL overrides the API base URL. Primarily used in tests to point
// at a local mock server.
func WithBaseURL(url string) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(url))
	}
}

// New constructs a Provider. model is an Anthropic model name, e.g.
// "claude-3-5-sonnet-20240620".
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	client := anthropic.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Translate(ctx context.Context, req llm.TranslateRequest) (llm.Translation, error) {
	prompt := buildPrompt(req)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Translation{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	if len(resp.Content) == 0 {
		return llm.Translation{}, fmt.Errorf("anthropic: empty content in response")
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return llm.Translation{UtteranceID: req.UtteranceID, Text: strings.TrimSpace(text)}, nil
}

func (p *Provider) Close() error {
	return nil
}

func (p *Provider) Name() string {
	return "anthropic"
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
