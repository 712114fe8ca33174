package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/lokutor-ai/lokutor-relay/internal/audio"
)

// Transcriber does a single blocking transcription of a full WAV clip and
// returns its transcript (a multipart POST for Whisper-compatible
// endpoints, upload/submit/poll for AssemblyAI). Implemented by REST-only
// vendors (the teacher's
// groq/openai/assemblyai adapters are all this shape — raw net/http POST of
// the whole utterance, no real streaming despite being named "STT").
type Transcriber interface {
	TranscribeClip(ctx context.Context, wav []byte) (string, error)
}

// BatchBackend adapts a Transcriber into the stt.Backend contract by
// buffering audio for the duration of an utterance and firing exactly one
// request at OnSpeechEnd/Stop.
type BatchBackend struct {
	transcriber  Transcriber
	sampleRateHz int
}

// NewBatchBackend wraps transcriber as a Backend that buffers until
// end-of-speech.
func NewBatchBackend(transcriber Transcriber, sampleRateHz int) *BatchBackend {
	return &BatchBackend{transcriber: transcriber, sampleRateHz: sampleRateHz}
}

func (b *BatchBackend) OpenSession(ctx context.Context) (Session, error) {
	return &batchSession{
		transcriber:  b.transcriber,
		sampleRateHz: b.sampleRateHz,
		events:       make(chan TranscriptEvent, 1),
		errCh:        make(chan error, 1),
	}, nil
}

type batchSession struct {
	transcriber  Transcriber
	sampleRateHz int

	mu  sync.Mutex
	pcm []byte

	events chan TranscriptEvent
	errCh  chan error
	closed bool
}

func (s *batchSession) SendAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcm = append(s.pcm, pcm...)
	return nil
}

// OnSpeechEnd fires the single batch transcription request and publishes
// its result as one final TranscriptEvent.
func (s *batchSession) OnSpeechEnd(ctx context.Context) error {
	s.mu.Lock()
	pcm := s.pcm
	s.pcm = nil
	s.mu.Unlock()

	if len(pcm) == 0 {
		return nil
	}

	wavData := audio.NewWavBuffer(pcm, s.sampleRateHz)
	text, err := s.transcriber.TranscribeClip(ctx, wavData)
	if err != nil {
		select {
		case s.errCh <- err:
		default:
		}
		return err
	}
	if text == "" {
		return nil
	}

	select {
	case s.events <- TranscriptEvent{Text: text, IsFinal: true}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *batchSession) Stop(ctx context.Context) error {
	return s.OnSpeechEnd(ctx)
}

func (s *batchSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

func (s *batchSession) Events() (<-chan TranscriptEvent, <-chan error) {
	return s.events, s.errCh
}

// multipartWhisperTranscriber posts a WAV clip to a Whisper-compatible
// `/audio/transcriptions` endpoint (OpenAI, Groq) as multipart/form-data,
// adapted from the teacher's pkg/providers/stt/openai.go.
type multipartWhisperTranscriber struct {
	url    string
	apiKey string
	model  string
}

// NewWhisperTranscriber builds a Transcriber for any Whisper-API-compatible
// REST endpoint (OpenAI or Groq, which share the request shape).
func NewWhisperTranscriber(url, apiKey, model string) Transcriber {
	return &multipartWhisperTranscriber{url: url, apiKey: apiKey, model: model}
}

func (t *multipartWhisperTranscriber) TranscribeClip(ctx context.Context, wav []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", t.model); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper transcription error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
