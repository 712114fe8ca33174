// Package stt defines the contract a streaming transcription vendor must
// satisfy to be driven by the managed session controller.
package stt

import "context"

// TranscriptEvent is a single {text, is_final} record emitted by a Session.
type TranscriptEvent struct {
	Text    string
	IsFinal bool
}

// Session is a single open streaming transcription connection.
type Session interface {
	// SendAudio streams PCM16LE mono audio. Implementations may buffer
	// before the underlying transport is fully open.
	SendAudio(ctx context.Context, pcm []byte) error
	// OnSpeechEnd signals utterance finalization to backends that require
	// trailing silence or an explicit commit.
	OnSpeechEnd(ctx context.Context) error
	// Stop politely finishes the stream, flushing any pending finals.
	Stop(ctx context.Context) error
	// Close releases all resources. Idempotent.
	Close() error
	// Events returns a channel of TranscriptEvent, closed when the session
	// is stopped or closed. A session-terminal error, if any, is sent on
	// errCh exactly once before the event channel closes.
	Events() (<-chan TranscriptEvent, <-chan error)
}

// Backend opens new Sessions against a transcription vendor.
type Backend interface {
	OpenSession(ctx context.Context) (Session, error)
}
