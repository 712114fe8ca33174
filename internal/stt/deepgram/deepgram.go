// Package deepgram implements a real streaming stt.Backend over Deepgram's
// websocket transcription API.
//
// The teacher repo already depends on coder/websocket (pkg/providers/tts
// uses it for a synthesis socket) but its own STT adapters
// (pkg/providers/stt/deepgram.go) only ever POST a full clip over plain
// net/http. This package gives that dependency the streaming job its
// presence in the teacher's go.mod implies, in the same dial/read-loop shape
// the teacher's LokutorTTS already uses.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-relay/internal/stt"
)

// Backend opens streaming sessions against Deepgram's /v1/listen websocket
// endpoint.
type Backend struct {
	apiKey       string
	scheme       string
	host         string
	model        string
	sampleRateHz int
	language     string
}

// Option configures a Backend.
type Option func(*Backend)

// WithEndpoint overrides the scheme and host, for tests against a local
// websocket server instead of Deepgram's production endpoint.
func WithEndpoint(scheme, host string) Option {
	return func(b *Backend) {
		b.scheme = scheme
		b.host = host
	}
}

// New constructs a Backend. sampleRateHz must be 8000 or 16000, matching the
// internal rate the managed controller streams at.
func New(apiKey string, sampleRateHz int, language string, opts ...Option) *Backend {
	b := &Backend{
		apiKey:       apiKey,
		scheme:       "wss",
		host:         "api.deepgram.com",
		model:        "nova-2",
		sampleRateHz: sampleRateHz,
		language:     language,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) OpenSession(ctx context.Context) (stt.Session, error) {
	u := url.URL{
		Scheme: b.scheme,
		Host:   b.host,
		Path:   "/v1/listen",
	}
	q := u.Query()
	q.Set("model", b.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", b.sampleRateHz))
	q.Set("channels", "1")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	if b.language != "" {
		q.Set("language", b.language)
	}
	u.RawQuery = q.Encode()

	header := map[string][]string{"Authorization": {"Token " + b.apiKey}}
	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &session{
		conn:     conn,
		events:   make(chan stt.TranscriptEvent, 32),
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type session struct {
	conn  *websocket.Conn
	mu    sync.Mutex
	closed bool

	events chan stt.TranscriptEvent
	errCh  chan error
	done   chan struct{}
}

type deepgramMessage struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *session) readLoop() {
	defer close(s.events)
	ctx := context.Background()
	for {
		var msg deepgramMessage
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			select {
			case <-s.done:
			default:
				select {
				case s.errCh <- fmt.Errorf("deepgram: read: %w", err):
				default:
				}
			}
			return
		}
		if len(msg.Channel.Alternatives) == 0 {
			continue
		}
		text := msg.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}
		select {
		case s.events <- stt.TranscriptEvent{Text: text, IsFinal: msg.IsFinal}:
		case <-s.done:
			return
		}
	}
}

func (s *session) SendAudio(ctx context.Context, pcm []byte) error {
	return s.conn.Write(ctx, websocket.MessageBinary, pcm)
}

func (s *session) OnSpeechEnd(ctx context.Context) error {
	// Deepgram finalizes on a short burst of silence server-side; an
	// explicit Finalize control frame nudges it immediately.
	return wsjson.Write(ctx, s.conn, map[string]string{"type": "Finalize"})
}

func (s *session) Stop(ctx context.Context) error {
	return wsjson.Write(ctx, s.conn, map[string]string{"type": "CloseStream"})
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *session) Events() (<-chan stt.TranscriptEvent, <-chan error) {
	return s.events, s.errCh
}
