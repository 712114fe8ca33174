package managedstt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-relay/internal/clock"
	"github.com/lokutor-ai/lokutor-relay/internal/stt"
	"github.com/lokutor-ai/lokutor-relay/internal/vad"
)

type recordingSession struct {
	mu        sync.Mutex
	sendCount int
	stopped   bool
	closed    bool

	events chan stt.TranscriptEvent
	errCh  chan error
}

func newRecordingSession() *recordingSession {
	return &recordingSession{
		events: make(chan stt.TranscriptEvent, 8),
		errCh:  make(chan error, 1),
	}
}

func (s *recordingSession) SendAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	s.sendCount++
	s.mu.Unlock()
	return nil
}

func (s *recordingSession) OnSpeechEnd(ctx context.Context) error { return nil }

func (s *recordingSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

func (s *recordingSession) Events() (<-chan stt.TranscriptEvent, <-chan error) {
	return s.events, s.errCh
}

func (s *recordingSession) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCount
}

type fakeBackend struct {
	mu       sync.Mutex
	sessions []*recordingSession
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{}
}

func (b *fakeBackend) OpenSession(ctx context.Context) (stt.Session, error) {
	s := newRecordingSession()
	b.mu.Lock()
	b.sessions = append(b.sessions, s)
	b.mu.Unlock()
	return s, nil
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *fakeBackend) session(i int) *recordingSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[i]
}

func newTestController(t *testing.T, backend stt.Backend, fc *clock.FakeClock) (*Controller, error) {
	t.Helper()
	return New(backend, Config{
		SampleRateHz:   16000,
		ResetDeadlineS: 1.0,
		DrainTimeoutS:  0.05,
		BridgingMs:     64,
	}, fc, nil)
}

func TestController_BridgingReset(t *testing.T) {
	fc := clock.NewFakeClock()
	backend := newFakeBackend()
	ctrl, err := newTestController(t, backend, fc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	ctx := context.Background()
	id := uuid.New()
	start := vad.Event{Kind: vad.SpeechStart, UtteranceID: id, PreRoll: []float32{}, Chunk: make([]float32, 10)}
	if err := ctrl.HandleVadEvent(ctx, start); err != nil {
		t.Fatalf("HandleVadEvent(start): %v", err)
	}

	fc.Advance(1.1)

	chunk := vad.Event{Kind: vad.SpeechChunk, UtteranceID: id, Chunk: make([]float32, 10)}
	if err := ctrl.HandleVadEvent(ctx, chunk); err != nil {
		t.Fatalf("HandleVadEvent(chunk): %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for backend.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if backend.count() < 2 {
		t.Fatalf("expected a second session to be opened, got %d", backend.count())
	}
	if backend.session(1).count() == 0 {
		t.Fatalf("expected bridging audio to be sent on the new session")
	}
}

func TestController_SilenceReset(t *testing.T) {
	fc := clock.NewFakeClock()
	backend := newFakeBackend()
	ctrl, err := newTestController(t, backend, fc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	ctx := context.Background()
	id := uuid.New()
	start := vad.Event{Kind: vad.SpeechStart, UtteranceID: id, PreRoll: []float32{}, Chunk: make([]float32, 10)}
	if err := ctrl.HandleVadEvent(ctx, start); err != nil {
		t.Fatalf("HandleVadEvent(start): %v", err)
	}

	fc.Advance(1.1)

	end := vad.Event{Kind: vad.SpeechEnd, UtteranceID: id}
	if err := ctrl.HandleVadEvent(ctx, end); err != nil {
		t.Fatalf("HandleVadEvent(end): %v", err)
	}

	deadline := time.Now().Add(time.Second)
	events := ctrl.Events()
	for {
		select {
		case ev := <-events:
			if se, ok := ev.(StateEvent); ok && se.State == Disconnected {
				return
			}
		case <-time.After(time.Until(deadline)):
			t.Fatalf("expected a Disconnected StateEvent")
		}
	}
}
