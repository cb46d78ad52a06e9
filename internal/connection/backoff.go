package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Delay returns min(base * 2^attempt, max).
func Delay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if max < base {
		max = base
	}

	d := base
	for i := 0; i < attempt; i++ {
		if d > max-d {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// BackoffConfig configures a Backoff.
type BackoffConfig struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // Up to this fraction of the delay is added at random
}

// Backoff hands out exponentially growing delays.
type Backoff struct {
	mu       sync.Mutex
	base     time.Duration
	max      time.Duration
	jitter   float64
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a backoff without jitter.
func NewBackoff(base, max time.Duration) *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Base: base, Max: max})
}

// NewBackoffWithConfig creates a backoff with custom settings.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Backoff{
		base:   cfg.Base,
		max:    cfg.Max,
		jitter: cfg.Jitter,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay for the current attempt and advances.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.addJitter(Delay(b.base, b.max, b.attempts))
	b.attempts++
	return d
}

// Reset starts over at the base delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}
