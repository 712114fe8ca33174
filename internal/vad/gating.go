package vad

import (
	"errors"
	"math"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedSampleRate is returned for any internal rate other than
	// 8000 or 16000 Hz.
	ErrUnsupportedSampleRate = errors.New("vad: sample rate must be 8000 or 16000")
	// ErrChunkSizeMismatch is returned when ProcessChunk receives a chunk
	// whose length does not equal the configured chunk size.
	ErrChunkSizeMismatch = errors.New("vad: chunk length does not match configured chunk_samples")
	// ErrInvalidConfig is returned for a non-positive sample rate or ring
	// buffer length.
	ErrInvalidConfig = errors.New("vad: ring_buffer_ms and sample_rate_hz must be > 0")
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	SpeechStart EventKind = iota
	SpeechChunk
	SpeechEnd
)

// Event is the tagged variant emitted by Gating.ProcessChunk: SpeechStart
// carries pre_roll and the triggering chunk, SpeechChunk carries the chunk,
// SpeechEnd carries neither.
type Event struct {
	Kind        EventKind
	UtteranceID uuid.UUID
	PreRoll     []float32
	Chunk       []float32
}

// Config parameterizes Gating.
type Config struct {
	SampleRateHz    int
	RingBufferMs    int
	SpeechThreshold float64
	HangoverMs      int
	// ChunkSamples overrides DefaultChunkSamples(SampleRateHz) when non-zero.
	ChunkSamples int
}

// Gating implements the chunked speech-probability scan with threshold and
// hangover described by the controller's segmentation contract: it emits
// SpeechStart/SpeechChunk/SpeechEnd events with pre-roll attached to every
// SpeechStart.
type Gating struct {
	engine Engine

	sampleRateHz    int
	speechThreshold float64
	chunkSamples    int
	hangoverChunks  int

	ring *ringHolder

	inSpeech    bool
	utteranceID uuid.UUID
	silenceRun  int
}

// ringHolder is a private copy of audio.RingF32's algorithm, kept here so
// gating.go does not import the audio package's concrete type into its
// exported surface. It is a separate implementation, not a wrapper.
type ringHolder struct {
	capacity int
	buf      []float32
	writePos int
	filled   bool
}

func newRing(capacity int) *ringHolder {
	return &ringHolder{capacity: capacity, buf: make([]float32, capacity)}
}

func (r *ringHolder) clear() {
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.writePos = 0
	r.filled = false
}

func (r *ringHolder) append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	if len(samples) >= r.capacity {
		copy(r.buf, samples[len(samples)-r.capacity:])
		r.writePos = 0
		r.filled = true
		return
	}
	end := r.writePos + len(samples)
	if end <= r.capacity {
		copy(r.buf[r.writePos:end], samples)
	} else {
		first := r.capacity - r.writePos
		copy(r.buf[r.writePos:], samples[:first])
		copy(r.buf, samples[first:])
	}
	if end >= r.capacity {
		r.filled = true
	}
	r.writePos = end % r.capacity
}

func (r *ringHolder) getLast(count int) []float32 {
	if count <= 0 {
		return []float32{}
	}
	available := r.writePos
	if r.filled {
		available = r.capacity
	}
	if count > available {
		count = available
	}
	if count == 0 {
		return []float32{}
	}
	start := ((r.writePos-count)%r.capacity + r.capacity) % r.capacity
	out := make([]float32, count)
	if start < r.writePos || !r.filled {
		copy(out, r.buf[start:start+count])
		return out
	}
	tail := r.buf[start:]
	n := copy(out, tail)
	copy(out[n:], r.buf[:count-n])
	return out
}

// NewGating constructs a Gating state machine. engine classifies chunks;
// cfg.ChunkSamples defaults to DefaultChunkSamples(cfg.SampleRateHz) when 0.
func NewGating(engine Engine, cfg Config) (*Gating, error) {
	if cfg.SampleRateHz <= 0 || cfg.RingBufferMs <= 0 {
		return nil, ErrInvalidConfig
	}

	chunkSamples := cfg.ChunkSamples
	if chunkSamples == 0 {
		cs, err := DefaultChunkSamples(cfg.SampleRateHz)
		if err != nil {
			return nil, err
		}
		chunkSamples = cs
	}

	chunkMs := float64(chunkSamples) / float64(cfg.SampleRateHz) * 1000.0
	hangoverChunks := 0
	if cfg.HangoverMs > 0 {
		hangoverChunks = int(math.Ceil(float64(cfg.HangoverMs) / chunkMs))
	}

	ringCapacity := int(float64(cfg.SampleRateHz) * float64(cfg.RingBufferMs) / 1000.0)
	if ringCapacity <= 0 {
		ringCapacity = 1
	}

	return &Gating{
		engine:          engine,
		sampleRateHz:    cfg.SampleRateHz,
		speechThreshold: cfg.SpeechThreshold,
		chunkSamples:    chunkSamples,
		hangoverChunks:  hangoverChunks,
		ring:            newRing(ringCapacity),
	}, nil
}

// InSpeech reports whether the state machine currently considers itself
// mid-utterance.
func (g *Gating) InSpeech() bool {
	return g.inSpeech
}

// Reset clears all state: the underlying engine, the pre-roll ring, and the
// in-speech/id/silence-run tracking.
func (g *Gating) Reset() {
	g.engine.Reset()
	g.ring.clear()
	g.inSpeech = false
	g.utteranceID = uuid.UUID{}
	g.silenceRun = 0
}

// ProcessChunk classifies chunk (which must have length ChunkSamples) and
// returns zero or more events. A single call can return both a SpeechChunk
// and a SpeechEnd when the hangover threshold is reached on that very chunk.
func (g *Gating) ProcessChunk(chunk []float32) ([]Event, error) {
	if len(chunk) != g.chunkSamples {
		return nil, ErrChunkSizeMismatch
	}

	prob, err := g.engine.SpeechProbability(chunk, g.sampleRateHz)
	if err != nil {
		return nil, err
	}

	var events []Event

	if !g.inSpeech {
		if prob >= g.speechThreshold {
			g.utteranceID = uuid.New()
			preRoll := g.ring.getLast(g.ring.capacity)
			chunkCopy := make([]float32, len(chunk))
			copy(chunkCopy, chunk)
			events = append(events, Event{
				Kind:        SpeechStart,
				UtteranceID: g.utteranceID,
				PreRoll:     preRoll,
				Chunk:       chunkCopy,
			})
			g.inSpeech = true
			g.silenceRun = 0
		}
		g.ring.append(chunk)
		return events, nil
	}

	chunkCopy := make([]float32, len(chunk))
	copy(chunkCopy, chunk)
	events = append(events, Event{Kind: SpeechChunk, UtteranceID: g.utteranceID, Chunk: chunkCopy})

	if prob >= g.speechThreshold {
		g.silenceRun = 0
	} else {
		g.silenceRun++
		if g.silenceRun >= g.hangoverChunks {
			events = append(events, Event{Kind: SpeechEnd, UtteranceID: g.utteranceID})
			g.inSpeech = false
			g.utteranceID = uuid.UUID{}
			g.silenceRun = 0
			g.engine.Reset()
		}
	}

	g.ring.append(chunk)
	return events, nil
}
