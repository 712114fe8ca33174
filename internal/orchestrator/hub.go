// Package orchestrator implements the utterance orchestration hub: it fans
// out STT transcript events, dispatches translations under a
// one-in-flight-per-utterance bound, maintains a bounded context-memory
// FIFO, and tracks end-to-end latency. Grounded in original_source's
// core/orchestrator/hub.py (the puripuly_heart variant, which carries the
// context-memory and latency-tracking logic spec.md requires).
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-relay/internal/clock"
	"github.com/lokutor-ai/lokutor-relay/internal/llm"
	"github.com/lokutor-ai/lokutor-relay/internal/logging"
	"github.com/lokutor-ai/lokutor-relay/internal/managedstt"
	"github.com/lokutor-ai/lokutor-relay/internal/osc"
	"github.com/lokutor-ai/lokutor-relay/internal/vad"
)

const minContextEntryLength = 2

// STTProvider is the subset of managedstt.Controller the hub depends on.
type STTProvider interface {
	HandleVadEvent(ctx context.Context, ev vad.Event) error
	Close() error
	Events() <-chan managedstt.Event
}

// Config carries the hub's tunable behavior.
type Config struct {
	SourceLanguage         string
	TargetLanguage         string
	SystemPrompt           string
	FallbackTranscriptOnly bool
	TranslationEnabled     bool
	ContextTimeWindowS     float64
	ContextMaxEntries      int
	HangoverS              float64
}

// Hub owns the STT controller, the LLM provider, and the outgoing OSC
// queue, and wires transcript events into translations and chatbox
// messages.
type Hub struct {
	stt         STTProvider
	llmProvider llm.Provider
	osc         *osc.Queue
	clock       clock.Clock
	logger      logging.Logger
	cfg         Config

	uiEvents chan UIEvent

	mu                  sync.Mutex
	utterances          map[uuid.UUID]*UtteranceBundle
	translationCancels  map[uuid.UUID]context.CancelFunc
	utteranceSources    map[uuid.UUID]string
	utteranceStartTimes map[uuid.UUID]float64
	contextHistory      []ContextEntry

	running      bool
	cancelSTT    context.CancelFunc
	cancelFlush  context.CancelFunc
	wg           sync.WaitGroup
	translateWG  sync.WaitGroup
}

// New constructs a Hub. stt and llmProvider may both be nil (transcript-only
// or passthrough-only operation); oscQueue must not be nil.
func New(stt STTProvider, llmProvider llm.Provider, oscQueue *osc.Queue, clk clock.Clock, logger logging.Logger, cfg Config) *Hub {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cfg.ContextMaxEntries <= 0 {
		cfg.ContextMaxEntries = 3
	}
	if cfg.ContextTimeWindowS <= 0 {
		cfg.ContextTimeWindowS = 20.0
	}
	return &Hub{
		stt:                 stt,
		llmProvider:         llmProvider,
		osc:                 oscQueue,
		clock:               clk,
		logger:              logger,
		cfg:                 cfg,
		uiEvents:            make(chan UIEvent, 256),
		utterances:          make(map[uuid.UUID]*UtteranceBundle),
		translationCancels:  make(map[uuid.UUID]context.CancelFunc),
		utteranceSources:    make(map[uuid.UUID]string),
		utteranceStartTimes: make(map[uuid.UUID]float64),
	}
}

// UIEvents returns the channel UI-facing notifications are delivered on.
func (h *Hub) UIEvents() <-chan UIEvent {
	return h.uiEvents
}

// Start spawns the STT-event consumer and, if autoFlushOsc is set, a ~50ms
// OSC flush ticker.
func (h *Hub) Start(ctx context.Context, autoFlushOsc bool) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	if h.stt != nil {
		sttCtx, cancel := context.WithCancel(ctx)
		h.cancelSTT = cancel
		h.wg.Add(1)
		go h.runSTTEventLoop(sttCtx)
	}
	if autoFlushOsc {
		flushCtx, cancel := context.WithCancel(ctx)
		h.cancelFlush = cancel
		h.wg.Add(1)
		go h.runOSCFlushLoop(flushCtx)
	}
}

// Stop cancels all background work, awaits in-flight translations, and
// closes the STT controller.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	cancels := make([]context.CancelFunc, 0, len(h.translationCancels))
	for id, cancel := range h.translationCancels {
		cancels = append(cancels, cancel)
		delete(h.translationCancels, id)
	}
	h.mu.Unlock()

	if h.cancelFlush != nil {
		h.cancelFlush()
	}
	if h.cancelSTT != nil {
		h.cancelSTT()
	}
	h.wg.Wait()

	for _, cancel := range cancels {
		cancel()
	}
	h.translateWG.Wait()

	if h.stt != nil {
		return h.stt.Close()
	}
	return nil
}

// HandleVadEvent forwards a VAD event to the STT controller after applying
// the hub's own side effects: a typing indicator on SpeechStart, and
// recording the latency epoch on SpeechEnd.
func (h *Hub) HandleVadEvent(ctx context.Context, ev vad.Event) error {
	switch ev.Kind {
	case vad.SpeechStart:
		_ = h.osc.SendTyping(true)
	case vad.SpeechEnd:
		h.mu.Lock()
		h.utteranceStartTimes[ev.UtteranceID] = h.clock.Now()
		h.mu.Unlock()
	}
	if h.stt != nil {
		return h.stt.HandleVadEvent(ctx, ev)
	}
	return nil
}

// SubmitText synthesizes a final transcript with a fresh utterance id and
// dispatches it exactly as if it had arrived from STT.
func (h *Hub) SubmitText(ctx context.Context, text, source string) (uuid.UUID, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return uuid.Nil, fmt.Errorf("orchestrator: text must be non-empty")
	}
	if source == "" {
		source = "You"
	}

	utteranceID := uuid.New()
	h.rememberSource(utteranceID, source)

	transcript := managedstt.Transcript{
		UtteranceID: utteranceID,
		Text:        text,
		IsFinal:     true,
		CreatedAt:   h.clock.Now(),
	}
	h.handleTranscript(transcript, true, source)

	if h.llmProvider == nil || !h.cfg.TranslationEnabled {
		h.enqueueOSC(utteranceID, text, nil)
	} else {
		h.ensureTranslation(ctx, transcript)
	}
	return utteranceID, nil
}

// ClearContext empties the context-memory FIFO.
func (h *Hub) ClearContext() {
	h.mu.Lock()
	h.contextHistory = nil
	h.mu.Unlock()
}

func (h *Hub) getOrCreateBundle(utteranceID uuid.UUID) *UtteranceBundle {
	b, ok := h.utterances[utteranceID]
	if !ok {
		b = &UtteranceBundle{UtteranceID: utteranceID}
		h.utterances[utteranceID] = b
	}
	return b
}

func (h *Hub) runSTTEventLoop(ctx context.Context) {
	defer h.wg.Done()
	events := h.stt.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.handleSTTEvent(ctx, ev)
		}
	}
}

func (h *Hub) handleSTTEvent(ctx context.Context, event managedstt.Event) {
	switch ev := event.(type) {
	case managedstt.StateEvent:
		h.emitUI(UIEvent{Type: SessionStateChanged, Payload: ev.State})

	case managedstt.ErrorEvent:
		h.emitUI(UIEvent{Type: UIError, UtteranceID: ev.UtteranceID, Payload: ev.Message, Source: "Mic"})

	case managedstt.PartialEvent:
		h.handleTranscript(ev.Transcript, false, "Mic")

	case managedstt.FinalEvent:
		isFirstFinal := h.handleTranscript(ev.Transcript, true, "Mic")
		if !isFirstFinal {
			// Bridging or a vendor retry can redeliver a final for an
			// utterance id already terminated; the first final wins.
			return
		}
		if h.llmProvider == nil || !h.cfg.TranslationEnabled {
			h.enqueueOSC(ev.Transcript.UtteranceID, ev.Transcript.Text, nil)
		} else {
			h.ensureTranslation(ctx, ev.Transcript)
		}
	}
}

// handleTranscript merges t into its bundle and reports whether this was the
// utterance's first final transcript (false for a partial, or for a final
// that arrives after the bundle was already finalized).
func (h *Hub) handleTranscript(t managedstt.Transcript, isFinal bool, source string) bool {
	h.mu.Lock()
	bundle := h.getOrCreateBundle(t.UtteranceID)
	alreadyFinal := bundle.Final != nil
	_ = bundle.WithTranscript(t)
	h.mu.Unlock()
	h.rememberSource(t.UtteranceID, source)

	evType := TranscriptPartial
	if isFinal {
		evType = TranscriptFinal
	}
	id := t.UtteranceID
	h.emitUI(UIEvent{Type: evType, UtteranceID: &id, Payload: t, Source: source})
	return isFinal && !alreadyFinal
}

func (h *Hub) rememberSource(utteranceID uuid.UUID, source string) {
	if source == "" {
		return
	}
	h.mu.Lock()
	h.utteranceSources[utteranceID] = source
	h.mu.Unlock()
}

func (h *Hub) getSource(utteranceID uuid.UUID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.utteranceSources[utteranceID]
}

func (h *Hub) ensureTranslation(ctx context.Context, transcript managedstt.Transcript) {
	if h.llmProvider == nil {
		return
	}
	utteranceID := transcript.UtteranceID

	h.mu.Lock()
	if _, inFlight := h.translationCancels[utteranceID]; inFlight {
		h.mu.Unlock()
		return
	}
	taskCtx, cancel := context.WithCancel(ctx)
	h.translationCancels[utteranceID] = cancel
	h.mu.Unlock()

	h.translateWG.Add(1)
	go func() {
		defer h.translateWG.Done()
		defer func() {
			h.mu.Lock()
			delete(h.translationCancels, utteranceID)
			h.mu.Unlock()
			cancel()
		}()
		h.translateAndEnqueue(taskCtx, utteranceID, transcript.Text)
	}()
}

func (h *Hub) translateAndEnqueue(ctx context.Context, utteranceID uuid.UUID, text string) {
	now := h.clock.Now()

	h.mu.Lock()
	validContext := h.validContextLocked(now)
	h.contextHistory = append(h.contextHistory, ContextEntry{
		Text:           text,
		SourceLanguage: h.cfg.SourceLanguage,
		TargetLanguage: h.cfg.TargetLanguage,
		CreatedAt:      now,
	})
	if len(h.contextHistory) > h.cfg.ContextMaxEntries {
		h.contextHistory = h.contextHistory[len(h.contextHistory)-h.cfg.ContextMaxEntries:]
	}
	h.mu.Unlock()

	contextStr := formatContextForLLM(validContext)
	prompt := strings.NewReplacer(
		"${sourceName}", languageName(h.cfg.SourceLanguage),
		"${targetName}", languageName(h.cfg.TargetLanguage),
	).Replace(h.cfg.SystemPrompt)

	translation, err := h.llmProvider.Translate(ctx, llm.TranslateRequest{
		UtteranceID:    utteranceID,
		Text:           text,
		SystemPrompt:   prompt,
		SourceLanguage: h.cfg.SourceLanguage,
		TargetLanguage: h.cfg.TargetLanguage,
		Context:        contextStr,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		id := utteranceID
		h.emitUI(UIEvent{Type: UIError, UtteranceID: &id, Payload: err.Error(), Source: h.getSource(utteranceID)})
		if h.cfg.FallbackTranscriptOnly {
			h.enqueueOSC(utteranceID, text, nil)
		}
		return
	}

	h.mu.Lock()
	bundle := h.getOrCreateBundle(utteranceID)
	_ = bundle.WithTranslation(translation)
	h.mu.Unlock()

	id := utteranceID
	h.emitUI(UIEvent{Type: TranslationDone, UtteranceID: &id, Payload: translation, Source: h.getSource(utteranceID)})
	h.enqueueOSC(utteranceID, text, &translation.Text)
}

// validContextLocked returns the last cfg.ContextMaxEntries history entries
// that are within the time window, match the current language pair, and
// meet the minimum length. Caller must hold h.mu.
func (h *Hub) validContextLocked(now float64) []ContextEntry {
	var valid []ContextEntry
	start := 0
	if len(h.contextHistory) > h.cfg.ContextMaxEntries {
		start = len(h.contextHistory) - h.cfg.ContextMaxEntries
	}
	for _, entry := range h.contextHistory[start:] {
		if now-entry.CreatedAt >= h.cfg.ContextTimeWindowS {
			continue
		}
		if entry.SourceLanguage != h.cfg.SourceLanguage || entry.TargetLanguage != h.cfg.TargetLanguage {
			continue
		}
		if len(entry.Text) < minContextEntryLength {
			continue
		}
		valid = append(valid, entry)
	}
	return valid
}

func formatContextForLLM(entries []ContextEntry) string {
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("- %q", e.Text)
	}
	return strings.Join(lines, "\n")
}

func (h *Hub) enqueueOSC(utteranceID uuid.UUID, transcriptText string, translationText *string) {
	merged := transcriptText
	if translationText != nil {
		merged = fmt.Sprintf("%s (%s)", transcriptText, *translationText)
	}

	now := h.clock.Now()
	msg := osc.Message{UtteranceID: utteranceID, Text: merged, CreatedAt: now}

	h.mu.Lock()
	startTime, hadStart := h.utteranceStartTimes[utteranceID]
	delete(h.utteranceStartTimes, utteranceID)
	h.mu.Unlock()

	if hadStart {
		totalE2E := (now - startTime) + h.cfg.HangoverS
		h.logger.Info("orchestrator: osc enqueue", "utterance_id", utteranceID, "latency_s", totalE2E)
	}

	h.osc.Enqueue(msg)
	_ = h.osc.SendTyping(false)

	id := utteranceID
	h.emitUI(UIEvent{Type: OscSent, UtteranceID: &id, Payload: msg, Source: h.getSource(utteranceID)})
}

func (h *Hub) runOSCFlushLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.osc.ProcessDue()
		}
	}
}

func (h *Hub) emitUI(ev UIEvent) {
	select {
	case h.uiEvents <- ev:
	default:
		h.logger.Warn("orchestrator: ui event queue full, dropping event", "type", ev.Type.String())
	}
}
