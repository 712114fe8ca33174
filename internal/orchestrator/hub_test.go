package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-relay/internal/clock"
	"github.com/lokutor-ai/lokutor-relay/internal/llm"
	"github.com/lokutor-ai/lokutor-relay/internal/managedstt"
	"github.com/lokutor-ai/lokutor-relay/internal/osc"
	"github.com/lokutor-ai/lokutor-relay/internal/vad"
)

// fakeSTT echoes a partial on any non-silent SpeechChunk and a final on
// SpeechEnd, per spec.md's end-to-end orchestrator scenario.
type fakeSTT struct {
	events chan managedstt.Event
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{events: make(chan managedstt.Event, 16)}
}

func (s *fakeSTT) HandleVadEvent(ctx context.Context, ev vad.Event) error {
	switch ev.Kind {
	case vad.SpeechChunk:
		if chunkIsNonSilent(ev.Chunk) {
			s.events <- managedstt.PartialEvent{
				UtteranceID: ev.UtteranceID,
				Transcript:  managedstt.Transcript{UtteranceID: ev.UtteranceID, Text: "PARTIAL", IsFinal: false},
			}
		}
	case vad.SpeechEnd:
		s.events <- managedstt.FinalEvent{
			UtteranceID: ev.UtteranceID,
			Transcript:  managedstt.Transcript{UtteranceID: ev.UtteranceID, Text: "FINAL", IsFinal: true},
		}
	}
	return nil
}

func (s *fakeSTT) Close() error {
	close(s.events)
	return nil
}

func (s *fakeSTT) Events() <-chan managedstt.Event { return s.events }

func chunkIsNonSilent(chunk []float32) bool {
	for _, v := range chunk {
		if v != 0 {
			return true
		}
	}
	return false
}

type fakeTranslateProvider struct{}

func (fakeTranslateProvider) Translate(ctx context.Context, req llm.TranslateRequest) (llm.Translation, error) {
	return llm.Translation{UtteranceID: req.UtteranceID, Text: "TRANSLATED"}, nil
}
func (fakeTranslateProvider) Close() error  { return nil }
func (fakeTranslateProvider) Name() string { return "fake" }

type recordingSender struct {
	sent chan string
}

func (s *recordingSender) SendChatbox(text string) error {
	s.sent <- text
	return nil
}
func (s *recordingSender) SendTyping(isTyping bool) error { return nil }
func (s *recordingSender) Close() error                   { return nil }

func TestHub_EndToEndTranslation(t *testing.T) {
	fc := clock.NewFakeClock()
	stt := newFakeSTT()
	sender := &recordingSender{sent: make(chan string, 8)}
	oscQueue, err := osc.NewQueue(sender, fc, 144, 1.5, 7.0)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	hub := New(stt, fakeTranslateProvider{}, oscQueue, fc, nil, Config{
		SourceLanguage:     "en",
		TargetLanguage:     "es",
		TranslationEnabled: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx, false)
	defer hub.Stop()

	id := uuid.New()
	if err := hub.HandleVadEvent(ctx, vad.Event{Kind: vad.SpeechStart, UtteranceID: id}); err != nil {
		t.Fatalf("HandleVadEvent(start): %v", err)
	}
	if err := hub.HandleVadEvent(ctx, vad.Event{Kind: vad.SpeechChunk, UtteranceID: id, Chunk: []float32{1.0}}); err != nil {
		t.Fatalf("HandleVadEvent(chunk): %v", err)
	}
	if err := hub.HandleVadEvent(ctx, vad.Event{Kind: vad.SpeechEnd, UtteranceID: id}); err != nil {
		t.Fatalf("HandleVadEvent(end): %v", err)
	}

	select {
	case text := <-sender.sent:
		if text != "FINAL (TRANSLATED)" {
			t.Errorf("sent text = %q, want %q", text, "FINAL (TRANSLATED)")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for an OSC send")
	}
}

type erroringProvider struct{}

func (erroringProvider) Translate(ctx context.Context, req llm.TranslateRequest) (llm.Translation, error) {
	return llm.Translation{}, fmt.Errorf("boom")
}
func (erroringProvider) Close() error  { return nil }
func (erroringProvider) Name() string { return "erroring" }

func TestHub_FallbackTranscriptOnlyOnTranslateError(t *testing.T) {
	fc := clock.NewFakeClock()
	stt := newFakeSTT()
	sender := &recordingSender{sent: make(chan string, 8)}
	oscQueue, err := osc.NewQueue(sender, fc, 144, 1.5, 7.0)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	hub := New(stt, erroringProvider{}, oscQueue, fc, nil, Config{
		SourceLanguage:         "en",
		TargetLanguage:         "es",
		TranslationEnabled:     true,
		FallbackTranscriptOnly: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx, false)
	defer hub.Stop()

	id, err := hub.SubmitText(ctx, "hello", "You")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	_ = id

	select {
	case text := <-sender.sent:
		if text != "hello" {
			t.Errorf("sent text = %q, want %q", text, "hello")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a fallback OSC send")
	}
}

type blockingTranslateProvider struct {
	calls   chan struct{}
	release chan struct{}
}

func (p *blockingTranslateProvider) Translate(ctx context.Context, req llm.TranslateRequest) (llm.Translation, error) {
	p.calls <- struct{}{}
	<-p.release
	return llm.Translation{UtteranceID: req.UtteranceID, Text: "TRANSLATED"}, nil
}
func (p *blockingTranslateProvider) Close() error  { return nil }
func (p *blockingTranslateProvider) Name() string { return "blocking" }

type capturingProvider struct {
	requests []llm.TranslateRequest
}

func (p *capturingProvider) Translate(ctx context.Context, req llm.TranslateRequest) (llm.Translation, error) {
	p.requests = append(p.requests, req)
	return llm.Translation{UtteranceID: req.UtteranceID, Text: "TRANSLATED"}, nil
}
func (p *capturingProvider) Close() error  { return nil }
func (p *capturingProvider) Name() string { return "capturing" }

func TestHub_ContextMemoryCarriesPriorEntry(t *testing.T) {
	fc := clock.NewFakeClock()
	sender := &recordingSender{sent: make(chan string, 8)}
	oscQueue, err := osc.NewQueue(sender, fc, 144, 1.5, 7.0)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	provider := &capturingProvider{}
	hub := New(nil, provider, oscQueue, fc, nil, Config{
		SourceLanguage:     "en",
		TargetLanguage:     "es",
		TranslationEnabled: true,
		ContextTimeWindowS: 20.0,
		ContextMaxEntries:  3,
	})

	ctx := context.Background()
	if _, err := hub.SubmitText(ctx, "first message", "You"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	<-sender.sent

	fc.Advance(2.0) // past the queue's 1.5s cooldown, inside the 20s context window
	if _, err := hub.SubmitText(ctx, "second message", "You"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	<-sender.sent

	if len(provider.requests) != 2 {
		t.Fatalf("expected 2 translate calls, got %d", len(provider.requests))
	}
	if provider.requests[0].Context != "" {
		t.Errorf("first call should see empty context, got %q", provider.requests[0].Context)
	}
	wantContext := `- "first message"`
	if provider.requests[1].Context != wantContext {
		t.Errorf("second call Context = %q, want %q", provider.requests[1].Context, wantContext)
	}
}

func TestHub_ContextMemoryExcludesDifferentLanguagePair(t *testing.T) {
	fc := clock.NewFakeClock()
	sender := &recordingSender{sent: make(chan string, 8)}
	oscQueue, err := osc.NewQueue(sender, fc, 144, 1.5, 7.0)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	provider := &capturingProvider{}
	hub := New(nil, provider, oscQueue, fc, nil, Config{
		SourceLanguage:     "en",
		TargetLanguage:     "es",
		TranslationEnabled: true,
	})

	ctx := context.Background()
	if _, err := hub.SubmitText(ctx, "first message", "You"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	<-sender.sent

	hub.cfg.TargetLanguage = "fr"
	if _, err := hub.SubmitText(ctx, "second message", "You"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	<-sender.sent

	if provider.requests[1].Context != "" {
		t.Errorf("expected no context carried across a language-pair change, got %q", provider.requests[1].Context)
	}
}

func TestHub_OneInFlightTranslationPerUtterance(t *testing.T) {
	fc := clock.NewFakeClock()
	sender := &recordingSender{sent: make(chan string, 8)}
	oscQueue, err := osc.NewQueue(sender, fc, 144, 1.5, 7.0)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	provider := &blockingTranslateProvider{calls: make(chan struct{}, 4), release: make(chan struct{})}
	hub := New(nil, provider, oscQueue, fc, nil, Config{
		SourceLanguage:     "en",
		TargetLanguage:     "es",
		TranslationEnabled: true,
	})
	defer close(provider.release)

	transcript := managedstt.Transcript{UtteranceID: uuid.New(), Text: "hi", IsFinal: true}
	hub.ensureTranslation(context.Background(), transcript)

	select {
	case <-provider.calls:
	case <-time.After(time.Second):
		t.Fatalf("expected first translation call to start")
	}

	// Second call for the same utterance id must be a no-op while the
	// first is still in flight.
	hub.ensureTranslation(context.Background(), transcript)

	select {
	case <-provider.calls:
		t.Fatalf("expected no second Translate call while one is already in flight for this utterance id")
	case <-time.After(100 * time.Millisecond):
	}

	hub.mu.Lock()
	n := len(hub.translationCancels)
	hub.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one in-flight translation, got %d", n)
	}
}
