package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type blockingProvider struct {
	inFlight  int32
	maxInFlight int32
	release   chan struct{}
}

func (p *blockingProvider) Translate(ctx context.Context, req TranslateRequest) (Translation, error) {
	n := atomic.AddInt32(&p.inFlight, 1)
	for {
		old := atomic.LoadInt32(&p.maxInFlight)
		if n <= old || atomic.CompareAndSwapInt32(&p.maxInFlight, old, n) {
			break
		}
	}
	<-p.release
	atomic.AddInt32(&p.inFlight, -1)
	return Translation{UtteranceID: req.UtteranceID, Text: "ok"}, nil
}

func (p *blockingProvider) Close() error { return nil }
func (p *blockingProvider) Name() string { return "blocking" }

func TestWithConcurrencyLimit_BoundsInFlightCalls(t *testing.T) {
	inner := &blockingProvider{release: make(chan struct{})}
	limited := WithConcurrencyLimit(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limited.Translate(context.Background(), TranslateRequest{UtteranceID: uuid.New()})
		}()
	}

	// Give the goroutines time to pile up against the semaphore before
	// releasing them.
	time.Sleep(50 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	if got := atomic.LoadInt32(&inner.maxInFlight); got > 2 {
		t.Errorf("max concurrent Translate calls = %d, want <= 2", got)
	}
}

func TestWithConcurrencyLimit_ClampsToOne(t *testing.T) {
	inner := &blockingProvider{release: make(chan struct{})}
	close(inner.release)
	limited := WithConcurrencyLimit(inner, 0)

	if _, err := limited.Translate(context.Background(), TranslateRequest{UtteranceID: uuid.New()}); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if limited.Name() != "blocking" {
		t.Errorf("Name() = %q, want blocking", limited.Name())
	}
}
