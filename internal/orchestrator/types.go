package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-relay/internal/llm"
	"github.com/lokutor-ai/lokutor-relay/internal/managedstt"
)

// ErrUtteranceIDMismatch is returned when a transcript or translation is
// merged into a bundle it does not belong to.
var ErrUtteranceIDMismatch = errors.New("orchestrator: utterance id mismatch")

// UtteranceBundle tracks the evolving state of one utterance: its latest
// partial or final transcript, and its translation once available.
// Grounded in original_source's domain/models.py UtteranceBundle.
type UtteranceBundle struct {
	UtteranceID uuid.UUID
	Partial     *managedstt.Transcript
	Final       *managedstt.Transcript
	Translation *llm.Translation
}

// WithTranscript merges transcript into the bundle: a final transcript
// replaces any partial and is sticky; a partial is ignored once a final has
// arrived.
func (b *UtteranceBundle) WithTranscript(t managedstt.Transcript) error {
	if t.UtteranceID != b.UtteranceID {
		return fmt.Errorf("%w: bundle=%s transcript=%s", ErrUtteranceIDMismatch, b.UtteranceID, t.UtteranceID)
	}
	if t.IsFinal {
		b.Final = &t
		b.Partial = nil
		return nil
	}
	if b.Final == nil {
		b.Partial = &t
	}
	return nil
}

// WithTranslation records translation on the bundle.
func (b *UtteranceBundle) WithTranslation(tr llm.Translation) error {
	if tr.UtteranceID != b.UtteranceID {
		return fmt.Errorf("%w: bundle=%s translation=%s", ErrUtteranceIDMismatch, b.UtteranceID, tr.UtteranceID)
	}
	b.Translation = &tr
	return nil
}

// ContextEntry is one remembered source transcript, with the language pair
// it was translated under and when, offered back to the LLM as
// conversational grounding on subsequent calls. The translation itself is
// not stored.
type ContextEntry struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
	CreatedAt      float64
}

// UIEventType discriminates the payload carried by a UIEvent.
type UIEventType int

const (
	SessionStateChanged UIEventType = iota
	TranscriptPartial
	TranscriptFinal
	TranslationDone
	OscSent
	UIError
)

func (t UIEventType) String() string {
	switch t {
	case SessionStateChanged:
		return "SESSION_STATE_CHANGED"
	case TranscriptPartial:
		return "TRANSCRIPT_PARTIAL"
	case TranscriptFinal:
		return "TRANSCRIPT_FINAL"
	case TranslationDone:
		return "TRANSLATION_DONE"
	case OscSent:
		return "OSC_SENT"
	case UIError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// UIEvent is a notification surfaced to whatever is driving the UI layer
// (a GUI, a CLI status line, a log sink).
type UIEvent struct {
	Type        UIEventType
	UtteranceID *uuid.UUID
	Payload     interface{}
	Source      string
}
