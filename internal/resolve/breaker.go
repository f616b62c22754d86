package resolve

import (
	"sync"
	"time"

	"lyricsync/internal/metrics"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	StateClosed   BreakerState = iota // 正常
	StateOpen                         // 熔断，跳过该层
	StateHalfOpen                     // 冷却结束，放行一个试探请求
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops calling a tier after threshold consecutive failures and
// lets one probe through once cooldown has passed.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

func NewBreaker(name string, threshold int, cooldown time.Duration, now func() time.Time) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 2 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, now: now}
}

// Allow reports whether a request may go through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		logger.Info().Str("tier", b.name).Msg("Cooldown passed, breaker half-open")
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		logger.Info().Str("tier", b.name).Msg("Probe succeeded, breaker closed")
		metrics.SetBreakerOpen(b.name, false)
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probing = false
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		if b.state != StateOpen {
			logger.Warn().Str("tier", b.name).Int("failures", b.failures).Dur("cooldown", b.cooldown).Msg("Breaker open")
		}
		b.state = StateOpen
		b.openedAt = b.now()
		metrics.SetBreakerOpen(b.name, true)
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
