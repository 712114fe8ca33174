// Package managedstt keeps a long-lived streaming transcription connection
// within a provider's session wall-clock limit through "bridging" handoffs,
// so that no in-flight audio is ever lost. Grounded in the Python ancestor's
// puripuly_heart/core/stt/controller.py, translated from asyncio tasks and a
// single-threaded event loop into goroutines guarded by one mutex per the
// concurrency design notes (no lock held across a blocking call).
package managedstt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-relay/internal/audio"
	"github.com/lokutor-ai/lokutor-relay/internal/clock"
	"github.com/lokutor-ai/lokutor-relay/internal/logging"
	"github.com/lokutor-ai/lokutor-relay/internal/stt"
	"github.com/lokutor-ai/lokutor-relay/internal/vad"
)

// Config parameterizes Controller.
type Config struct {
	SampleRateHz int
	// ResetDeadlineS bounds a single streaming session's lifetime. Defaults
	// to 180s (the value the Python ancestor hardcodes) if zero or
	// negative. Implementers deploying
	// against a specific vendor should set this below that vendor's
	// documented session ceiling with margin >= DrainTimeoutS + BridgingMs.
	ResetDeadlineS float64
	DrainTimeoutS  float64
	BridgingMs     int
}

// Controller owns one audio ring sized at sampleRateHz*bridgingMs/1000 and
// at most one active streaming session, refreshing it before the vendor's
// session-length limit via bridging (while speaking) or a clean close
// (while silent).
type Controller struct {
	backend      stt.Backend
	sampleRateHz int
	clock        clock.Clock
	logger       logging.Logger

	resetDeadlineS float64
	drainTimeoutS  float64
	bridgingMs     int

	mu                   sync.Mutex
	state                SessionState
	activeSession        stt.Session
	sessionStartedAt     *float64
	consumerCancel       context.CancelFunc
	consumerDone         chan struct{}
	drainWG              sync.WaitGroup
	activeUtteranceID    *uuid.UUID
	pendingFinalID       *uuid.UUID
	ring                 *audio.RingF32
	resetTimerGeneration int

	events chan Event
}

// New constructs a Controller. sampleRateHz must be 8000 or 16000.
func New(backend stt.Backend, cfg Config, clk clock.Clock, logger logging.Logger) (*Controller, error) {
	if cfg.SampleRateHz != 8000 && cfg.SampleRateHz != 16000 {
		return nil, fmt.Errorf("managedstt: sample_rate_hz must be 8000 or 16000")
	}
	if cfg.ResetDeadlineS <= 0 {
		cfg.ResetDeadlineS = 180.0
	}
	if cfg.DrainTimeoutS <= 0 {
		return nil, fmt.Errorf("managedstt: drain_timeout_s must be > 0")
	}
	if cfg.BridgingMs <= 0 {
		return nil, fmt.Errorf("managedstt: bridging_ms must be > 0")
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	capacitySamples := int(float64(cfg.SampleRateHz) * (float64(cfg.BridgingMs) / 1000.0))
	if capacitySamples <= 0 {
		capacitySamples = 1
	}
	ring, err := audio.NewRingF32(capacitySamples)
	if err != nil {
		return nil, err
	}

	return &Controller{
		backend:        backend,
		sampleRateHz:   cfg.SampleRateHz,
		clock:          clk,
		logger:         logger,
		resetDeadlineS: cfg.ResetDeadlineS,
		drainTimeoutS:  cfg.DrainTimeoutS,
		bridgingMs:     cfg.BridgingMs,
		state:          Disconnected,
		ring:           ring,
		events:         make(chan Event, 64),
	}, nil
}

// Events returns the controller's outgoing typed event stream.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// State returns the current session state.
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Warmup eagerly opens a session ahead of first speech to shave
// first-utterance latency.
func (c *Controller) Warmup(ctx context.Context) error {
	return c.ensureSession(ctx)
}

// HandleVadEvent routes a vad.Event by its Kind.
func (c *Controller) HandleVadEvent(ctx context.Context, ev vad.Event) error {
	switch ev.Kind {
	case vad.SpeechStart:
		return c.onSpeechStart(ctx, ev)
	case vad.SpeechChunk:
		return c.onSpeechChunk(ctx, ev)
	case vad.SpeechEnd:
		return c.onSpeechEnd(ctx, ev)
	default:
		return fmt.Errorf("managedstt: unknown vad event kind %v", ev.Kind)
	}
}

func (c *Controller) onSpeechStart(ctx context.Context, ev vad.Event) error {
	c.mu.Lock()
	id := ev.UtteranceID
	c.activeUtteranceID = &id
	c.pendingFinalID = nil
	c.mu.Unlock()

	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	c.maybeReset(ctx, true)

	if err := c.sendAudio(ctx, ev.PreRoll); err != nil {
		return err
	}
	return c.sendAudio(ctx, ev.Chunk)
}

func (c *Controller) onSpeechChunk(ctx context.Context, ev vad.Event) error {
	c.mu.Lock()
	id := ev.UtteranceID
	c.activeUtteranceID = &id
	c.mu.Unlock()

	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	c.maybeReset(ctx, true)
	return c.sendAudio(ctx, ev.Chunk)
}

func (c *Controller) onSpeechEnd(ctx context.Context, ev vad.Event) error {
	c.mu.Lock()
	if c.activeUtteranceID != nil && *c.activeUtteranceID == ev.UtteranceID {
		c.activeUtteranceID = nil
	}
	id := ev.UtteranceID
	c.pendingFinalID = &id
	session := c.activeSession
	c.mu.Unlock()

	if session != nil {
		c.logger.Info("stt speech end", "utterance_id", ev.UtteranceID)
		if err := session.OnSpeechEnd(ctx); err != nil {
			c.logger.Warn("stt on_speech_end failed", "err", err)
		}
	}

	c.maybeReset(ctx, false)
	return nil
}

func (c *Controller) sendAudio(ctx context.Context, samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	c.mu.Lock()
	c.ring.Append(samples)
	session := c.activeSession
	c.mu.Unlock()

	if session == nil {
		return fmt.Errorf("managedstt: session is not active")
	}
	pcm := audio.Float32ToPCM16LE(samples)
	return session.SendAudio(ctx, pcm)
}

func (c *Controller) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	if c.activeSession != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.logger.Info("stt opening new session")
	session, err := c.backend.OpenSession(ctx)
	if err != nil {
		c.logger.Error("stt failed to open session", "err", err)
		c.emit(ErrorEvent{Message: fmt.Sprintf("failed to open STT session: %v", err)})
		return err
	}

	c.mu.Lock()
	c.activeSession = session
	now := c.clock.Now()
	c.sessionStartedAt = &now
	c.mu.Unlock()

	c.startConsumer(session)
	c.scheduleResetTimer()
	c.setState(Streaming)
	c.logger.Info("stt session opened", "reset_deadline_s", c.resetDeadlineS)
	return nil
}

func (c *Controller) maybeReset(ctx context.Context, isSpeaking bool) {
	c.mu.Lock()
	if c.activeSession == nil || c.sessionStartedAt == nil {
		c.mu.Unlock()
		return
	}
	elapsed := c.clock.Now() - *c.sessionStartedAt
	if elapsed < c.resetDeadlineS {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Warn("stt session exceeded deadline", "elapsed", elapsed, "speaking", isSpeaking)
	if isSpeaking {
		c.resetWithBridging(ctx)
	} else {
		c.resetOnSilence(ctx)
	}
}

func (c *Controller) resetWithBridging(ctx context.Context) {
	c.logger.Info("stt bridging: resetting session while speaking")

	c.mu.Lock()
	oldSession := c.activeSession
	oldCancel := c.consumerCancel
	oldDone := c.consumerDone
	bridgingAudio := c.ring.GetLastSamples(c.ring.Capacity())
	c.mu.Unlock()

	newSession, err := c.backend.OpenSession(ctx)
	if err != nil {
		c.logger.Error("stt bridging: failed to open new session", "err", err)
		c.emit(ErrorEvent{Message: fmt.Sprintf("bridging reset failed: %v", err)})
		return
	}

	c.mu.Lock()
	c.activeSession = newSession
	now := c.clock.Now()
	c.sessionStartedAt = &now
	c.mu.Unlock()

	c.startConsumer(newSession)
	c.scheduleResetTimer()
	c.setState(Streaming)

	pcm := audio.Float32ToPCM16LE(bridgingAudio)
	if err := newSession.SendAudio(ctx, pcm); err != nil {
		c.logger.Warn("stt bridging: failed to send bridging audio", "err", err)
	}
	c.logger.Info("stt bridging: new session ready")

	if oldSession != nil {
		c.drainWG.Add(1)
		go c.drainAndClose(oldSession, oldCancel, oldDone)
	}
}

func (c *Controller) resetOnSilence(ctx context.Context) {
	c.mu.Lock()
	oldSession := c.activeSession
	oldCancel := c.consumerCancel
	oldDone := c.consumerDone
	if oldSession == nil {
		c.mu.Unlock()
		return
	}
	c.activeSession = nil
	c.consumerCancel = nil
	c.consumerDone = nil
	c.sessionStartedAt = nil
	c.mu.Unlock()

	c.logger.Info("stt silence reset: closing session during silence")
	c.setState(Draining)
	c.drainAndCloseSync(oldSession, oldCancel, oldDone)
	c.setState(Disconnected)
	c.logger.Info("stt silence reset: session closed, will reconnect on next speech")
}

// drainAndClose runs the drain-and-close sequence in the background
// (bridging path: the old session's residual finals keep arriving while the
// new session is already streaming).
func (c *Controller) drainAndClose(session stt.Session, cancel context.CancelFunc, done chan struct{}) {
	defer c.drainWG.Done()
	c.drainAndCloseSync(session, cancel, done)
}

func (c *Controller) drainAndCloseSync(session stt.Session, cancel context.CancelFunc, done chan struct{}) {
	c.logger.Debug("stt drain: starting", "timeout_s", c.drainTimeoutS)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(c.drainTimeoutS*float64(time.Second)))
	defer drainCancel()
	if err := session.Stop(drainCtx); err != nil {
		c.logger.Debug("stt drain: stop returned error", "err", err)
	}

	if done != nil {
		select {
		case <-done:
			c.logger.Debug("stt drain: consumer completed normally")
		case <-time.After(time.Duration(c.drainTimeoutS * float64(time.Second))):
			c.logger.Warn("stt drain: timeout, cancelling consumer")
			if cancel != nil {
				cancel()
			}
			<-done
		}
	}

	if err := session.Close(); err != nil {
		c.logger.Debug("stt drain: close returned error", "err", err)
	}
	c.logger.Debug("stt drain: session closed")
}

// startConsumer spawns the goroutine that tags inbound transcript events
// with the active or pending-final utterance id and republishes them as
// typed Controller events.
func (c *Controller) startConsumer(session stt.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.consumerCancel = cancel
	c.consumerDone = done
	c.mu.Unlock()

	eventsCh, errCh := session.Events()
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errCh:
				if ok && err != nil {
					c.emit(ErrorEvent{Message: fmt.Sprintf("STT session error: %v", err)})
				}
			case ev, ok := <-eventsCh:
				if !ok {
					return
				}
				c.consumeTranscript(ev)
			}
		}
	}()
}

func (c *Controller) consumeTranscript(ev stt.TranscriptEvent) {
	c.mu.Lock()
	var utteranceID *uuid.UUID
	if c.activeUtteranceID != nil {
		utteranceID = c.activeUtteranceID
	} else if c.pendingFinalID != nil {
		utteranceID = c.pendingFinalID
	}
	if utteranceID == nil {
		c.mu.Unlock()
		return
	}
	id := *utteranceID
	now := c.clock.Now()
	c.mu.Unlock()

	transcript := Transcript{UtteranceID: id, Text: ev.Text, IsFinal: ev.IsFinal, CreatedAt: now}

	if ev.IsFinal {
		c.emit(FinalEvent{UtteranceID: id, Transcript: transcript})
		c.mu.Lock()
		if c.pendingFinalID != nil && *c.pendingFinalID == id && c.activeUtteranceID == nil {
			c.pendingFinalID = nil
		}
		c.mu.Unlock()
	} else {
		c.emit(PartialEvent{UtteranceID: id, Transcript: transcript})
	}
}

func (c *Controller) setState(state SessionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	old := c.state
	c.state = state
	c.mu.Unlock()

	c.logger.Info("stt state transition", "from", old.String(), "to", state.String())
	c.emit(StateEvent{State: state})
}

// scheduleResetTimer arms an independent deadline timer for the
// just-opened session. Each call supersedes any previously armed timer by
// incrementing a generation counter the fired goroutine checks before
// acting.
func (c *Controller) scheduleResetTimer() {
	c.mu.Lock()
	c.resetTimerGeneration++
	generation := c.resetTimerGeneration
	deadline := c.resetDeadlineS
	c.mu.Unlock()

	go func() {
		timer := time.NewTimer(time.Duration(deadline * float64(time.Second)))
		defer timer.Stop()
		<-timer.C

		c.mu.Lock()
		if generation != c.resetTimerGeneration || c.activeSession == nil {
			c.mu.Unlock()
			return
		}
		speaking := c.activeUtteranceID != nil
		c.mu.Unlock()

		c.logger.Info("stt timer expired", "reset_deadline_s", deadline)
		ctx := context.Background()
		if speaking {
			c.resetWithBridging(ctx)
		} else {
			c.resetOnSilence(ctx)
		}
	}()
}

// Close transitions to Draining (if a session is active), cancels the
// consumer and deadline timer, drains every in-flight session, and returns
// to Disconnected.
func (c *Controller) Close() error {
	c.mu.Lock()
	hasSession := c.activeSession != nil
	c.resetTimerGeneration++ // invalidate any pending timer
	session := c.activeSession
	cancel := c.consumerCancel
	done := c.consumerDone
	c.activeSession = nil
	c.consumerCancel = nil
	c.consumerDone = nil
	c.sessionStartedAt = nil
	c.mu.Unlock()

	if hasSession {
		c.setState(Draining)
	}

	if session != nil {
		c.drainAndCloseSync(session, cancel, done)
	}

	c.drainWG.Wait()
	c.setState(Disconnected)
	close(c.events)
	return nil
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("stt event queue full, dropping event")
	}
}
