package llm

import (
	"fmt"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker stops calling a provider after Threshold consecutive transient
// failures. After Cooldown a single trial call is let through; its outcome closes
// or reopens the breaker.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	fails     int
	openedAt  time.Time
	state     breakerState
	now       func() time.Time
}

// NewBreaker creates a breaker. A threshold of zero disables it.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow returns an ErrorTypeUnavailable error while the breaker is open.
func (b *Breaker) Allow() error {
	if b == nil || b.threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return NewError(ErrorTypeUnavailable,
				fmt.Sprintf("provider unavailable after %d consecutive failures", b.fails), false, nil)
		}
		b.state = breakerHalfOpen
		return nil
	case breakerHalfOpen:
		return NewError(ErrorTypeUnavailable, "provider recovery trial in flight", false, nil)
	}
	return nil
}

// Record feeds a call outcome into the breaker. Only transient failures count.
func (b *Breaker) Record(err error) {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !isProviderFailure(err) {
		b.fails = 0
		b.state = breakerClosed
		return
	}

	b.fails++
	if b.state == breakerHalfOpen || b.fails >= b.threshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}

func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func isProviderFailure(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeEndpoint, ErrorTypeRateLimit, ErrorTypeTimeout:
		return true
	}
	return false
}
