package managedstt

import (
	"github.com/google/uuid"
)

// SessionState mirrors the controller's STT session lifecycle.
type SessionState int

const (
	Disconnected SessionState = iota
	Streaming
	Draining
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Streaming:
		return "STREAMING"
	case Draining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// Transcript is a timestamped partial or final transcription result tagged
// with the utterance it belongs to.
type Transcript struct {
	UtteranceID uuid.UUID
	Text        string
	IsFinal     bool
	CreatedAt   float64
}

// Event is the tagged variant emitted on Controller.Events(): exactly one of
// PartialEvent, FinalEvent, ErrorEvent, or StateEvent is non-nil-shaped per
// value — callers should type switch.
type Event interface {
	isEvent()
}

type PartialEvent struct {
	UtteranceID uuid.UUID
	Transcript  Transcript
}

type FinalEvent struct {
	UtteranceID uuid.UUID
	Transcript  Transcript
}

type ErrorEvent struct {
	Message     string
	UtteranceID *uuid.UUID
}

type StateEvent struct {
	State SessionState
}

func (PartialEvent) isEvent() {}
func (FinalEvent) isEvent()   {}
func (ErrorEvent) isEvent()   {}
func (StateEvent) isEvent()   {}
