package osc

import (
	"strings"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-relay/internal/clock"
)

// Message is one outgoing chatbox message awaiting delivery.
type Message struct {
	UtteranceID uuid.UUID
	Text        string
	CreatedAt   float64
}

// Queue is a cooldown-gated, TTL-expiring, FIFO-combining outgoing message
// queue. Grounded in original_source's core/osc/smart_queue.py.
type Queue struct {
	sender   Sender
	clock    clock.Clock
	maxChars int
	cooldown float64
	ttl      float64

	nextSendAt float64
	pending    []Message
}

// NewQueue constructs a Queue. maxChars, cooldown, and ttl must all be > 0.
func NewQueue(sender Sender, clk clock.Clock, maxChars int, cooldownS, ttlS float64) (*Queue, error) {
	if maxChars <= 0 {
		return nil, errInvalidQueueConfig("max_chars must be > 0")
	}
	if cooldownS <= 0 {
		return nil, errInvalidQueueConfig("cooldown_s must be > 0")
	}
	if ttlS <= 0 {
		return nil, errInvalidQueueConfig("ttl_s must be > 0")
	}
	return &Queue{
		sender:   sender,
		clock:    clk,
		maxChars: maxChars,
		cooldown: cooldownS,
		ttl:      ttlS,
	}, nil
}

type queueConfigError string

func (e queueConfigError) Error() string { return "osc: " + string(e) }

func errInvalidQueueConfig(msg string) error { return queueConfigError(msg) }

// Enqueue appends m to the pending batch and immediately tries to send.
func (q *Queue) Enqueue(m Message) {
	q.pending = append(q.pending, m)
	q.ProcessDue()
}

// ProcessDue sends the next due batch, if cooldown has elapsed and anything
// unexpired remains pending.
func (q *Queue) ProcessDue() {
	now := q.clock.Now()
	if now < q.nextSendAt {
		return
	}

	q.dropExpired(now)
	if len(q.pending) == 0 {
		return
	}

	headUtteranceID := q.pending[0].UtteranceID
	combined, createdAt := q.combinePending()
	if combined == "" {
		q.pending = nil
		return
	}

	parts := q.splitText(combined)
	head := parts[0]
	tail := parts[1:]

	if err := q.sender.SendChatbox(head); err != nil {
		// Leave pending unchanged so the next tick retries.
		return
	}
	q.nextSendAt = now + q.cooldown

	q.pending = nil
	if len(tail) > 0 {
		q.pending = append(q.pending, Message{
			UtteranceID: headUtteranceID,
			Text:        strings.Join(tail, " "),
			CreatedAt:   createdAt,
		})
	}
}

// SendTyping forwards the typing indicator directly, bypassing the queue.
// Sender I/O errors are swallowed by the caller, not raised here.
func (q *Queue) SendTyping(isTyping bool) error {
	return q.sender.SendTyping(isTyping)
}

func (q *Queue) dropExpired(now float64) {
	kept := q.pending[:0]
	for _, m := range q.pending {
		if now-m.CreatedAt <= q.ttl {
			kept = append(kept, m)
		}
	}
	q.pending = kept
}

func (q *Queue) combinePending() (string, float64) {
	createdAt := q.pending[0].CreatedAt
	var texts []string
	for _, m := range q.pending {
		if m.CreatedAt < createdAt {
			createdAt = m.CreatedAt
		}
		if m.Text != "" {
			texts = append(texts, m.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, " ")), createdAt
}

// splitText paginates text into chunks of at most q.maxChars, mirroring
// Python's textwrap.wrap(width=max_chars, break_long_words=True,
// break_on_hyphens=False): words are packed greedily onto lines, and any
// single word longer than max_chars is itself broken into fixed-width
// chunks rather than overflowing a line.
func (q *Queue) splitText(text string) []string {
	if len(text) <= q.maxChars {
		return []string{text}
	}

	var lines []string
	var line strings.Builder

	flush := func() {
		if line.Len() > 0 {
			lines = append(lines, line.String())
			line.Reset()
		}
	}

	for _, word := range strings.Fields(text) {
		for len(word) > q.maxChars {
			flush()
			lines = append(lines, word[:q.maxChars])
			word = word[q.maxChars:]
		}

		if line.Len() == 0 {
			line.WriteString(word)
			continue
		}
		if line.Len()+1+len(word) <= q.maxChars {
			line.WriteByte(' ')
			line.WriteString(word)
		} else {
			flush()
			line.WriteString(word)
		}
	}
	flush()

	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
