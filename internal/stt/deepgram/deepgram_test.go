package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestBackend_OpenSessionStreamsTranscripts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("server accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := context.Background()
		_, _, err = conn.Read(ctx) // the PCM binary frame sent by SendAudio
		if err != nil {
			return
		}

		msg := map[string]interface{}{
			"is_final": true,
			"channel": map[string]interface{}{
				"alternatives": []map[string]string{{"transcript": "hello world"}},
			},
		}
		_ = wsjson.Write(ctx, conn, msg)
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	backend := New("test-key", 16000, "en", WithEndpoint("ws", host))

	session, err := backend.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer session.Close()

	if err := session.SendAudio(context.Background(), []byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	events, errCh := session.Events()
	select {
	case ev := <-events:
		if ev.Text != "hello world" || !ev.IsFinal {
			t.Errorf("got %+v, want {hello world true}", ev)
		}
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a transcript event")
	}
}
