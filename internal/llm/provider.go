// Package llm defines the translation provider contract and the
// counting-semaphore concurrency wrapper every concrete provider is driven
// through.
package llm

import (
	"context"

	"github.com/google/uuid"
)

// ContextPair is one prior {source, translated} line of conversational
// context offered to the model as grounding.
type ContextPair struct {
	Source     string
	Translated string
}

// TranslateRequest carries everything a Provider needs to translate one
// utterance.
type TranslateRequest struct {
	UtteranceID    uuid.UUID
	Text           string
	SystemPrompt   string
	SourceLanguage string
	TargetLanguage string
	Context        string
	ContextPairs   []ContextPair
}

// Translation is the result of a successful translate call.
type Translation struct {
	UtteranceID uuid.UUID
	Text        string
	CreatedAt   float64
}

// Provider translates text from SourceLanguage to TargetLanguage.
type Provider interface {
	Translate(ctx context.Context, req TranslateRequest) (Translation, error)
	Close() error
	Name() string
}

// semaphoreProvider wraps an inner Provider behind a counting semaphore of
// fixed size, acquiring before every delegate call and releasing on any
// exit. Adapted from the Python ancestor's SemaphoreLLMProvider.
type semaphoreProvider struct {
	inner Provider
	sem   chan struct{}
}

// WithConcurrencyLimit bounds concurrent Translate calls against inner to
// limit. A limit below 1 is treated as 1.
func WithConcurrencyLimit(inner Provider, limit int) Provider {
	if limit < 1 {
		limit = 1
	}
	return &semaphoreProvider{inner: inner, sem: make(chan struct{}, limit)}
}

func (p *semaphoreProvider) Translate(ctx context.Context, req TranslateRequest) (Translation, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return Translation{}, ctx.Err()
	}
	defer func() { <-p.sem }()

	return p.inner.Translate(ctx, req)
}

func (p *semaphoreProvider) Close() error {
	return p.inner.Close()
}

func (p *semaphoreProvider) Name() string {
	return p.inner.Name()
}
