package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMultipartWhisperTranscriber_PostsAndParses(t *testing.T) {
	var gotModel string
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		gotModel = r.FormValue("model")
		json.NewEncoder(w).Encode(map[string]string{"text": "bonjour"})
	}))
	defer server.Close()

	transcriber := NewWhisperTranscriber(server.URL, "sk-test", "whisper-1")
	text, err := transcriber.TranscribeClip(context.Background(), []byte("RIFF....WAVEfmt "))
	if err != nil {
		t.Fatalf("TranscribeClip: %v", err)
	}
	if text != "bonjour" {
		t.Errorf("text = %q, want bonjour", text)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotModel)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q, want Bearer sk-test", gotAuth)
	}
}

func TestMultipartWhisperTranscriber_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid api key"))
	}))
	defer server.Close()

	transcriber := NewWhisperTranscriber(server.URL, "bad-key", "whisper-1")
	if _, err := transcriber.TranscribeClip(context.Background(), []byte("wav")); err == nil {
		t.Fatalf("expected an error for a non-200 response")
	}
}

type stubTranscriber struct {
	text string
	err  error
}

func (s stubTranscriber) TranscribeClip(ctx context.Context, wav []byte) (string, error) {
	return s.text, s.err
}

func TestBatchBackend_FiresOneRequestAtSpeechEnd(t *testing.T) {
	backend := NewBatchBackend(stubTranscriber{text: "hi there"}, 16000)
	session, err := backend.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer session.Close()

	if err := session.SendAudio(context.Background(), make([]byte, 3200)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := session.OnSpeechEnd(context.Background()); err != nil {
		t.Fatalf("OnSpeechEnd: %v", err)
	}

	events, _ := session.Events()
	select {
	case ev := <-events:
		if ev.Text != "hi there" || !ev.IsFinal {
			t.Errorf("got %+v, want {hi there true}", ev)
		}
	default:
		t.Fatalf("expected a buffered transcript event")
	}
}

func TestBatchBackend_EmptyAudioProducesNoEvent(t *testing.T) {
	backend := NewBatchBackend(stubTranscriber{text: "should not be called"}, 16000)
	session, err := backend.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer session.Close()

	if err := session.OnSpeechEnd(context.Background()); err != nil {
		t.Fatalf("OnSpeechEnd: %v", err)
	}

	events, _ := session.Events()
	select {
	case ev := <-events:
		t.Fatalf("expected no event for an empty utterance, got %+v", ev)
	default:
	}
}
