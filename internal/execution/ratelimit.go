package execution

import (
	"context"
	"sync"
	"time"
)

// tokenBucket is a minimal fixed-rate limiter for outbound exchange
// requests. Grounded on the teacher's AckTimeout/FillTimeout pacing
// intent in ExecutorConfig, generalized into an explicit limiter since
// the Live backend talks to a real rate-limited exchange rather than a
// simulator.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	last       time.Time
	now        func() time.Time
}

func newTokenBucket(ratePerSecond float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: ratePerSecond,
		last:       time.Now(),
		now:        time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (b *tokenBucket) Wait(ctx context.Context) error {
	for {
		if b.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (b *tokenBucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
