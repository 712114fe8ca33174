// Package openai implements a translation llm.Provider backed by the real
// openai-go SDK, grounded in MrWong99-glyphoxa/pkg/provider/llm/openai —
// the teacher's own pkg/providers/llm/openai.go instead hand-rolls a raw
// net/http JSON POST, which this package replaces with a genuine SDK call.
package openai

import (
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lokutor-ai/lokutor-relay/internal/llm"
)

// Provider translates text by asking a chat-completion model to produce
// only the translated line.
type Provider struct {
	client oai.Client
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

// New constructs a Provider. model is an OpenAI chat model name, e.g.
// "gpt-4o-mini".
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Translate(ctx context.Context, req llm.TranslateRequest) (llm.Translation, error) {
	prompt := buildPrompt(req)

	params := oai.ChatCompletionNewParams{
		Model: oai.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(req.SystemPrompt),
			oai.UserMessage(prompt),
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Translation{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Translation{}, fmt.Errorf("openai: empty choices in response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	return llm.Translation{UtteranceID: req.UtteranceID, Text: text}, nil
}

func (p *Provider) Close() error {
	return nil
}

func (p *Provider) Name() string {
	return "openai"
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
