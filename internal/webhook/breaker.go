package webhook

import (
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// halfOpenSuccesses is the number of consecutive successes in half-open state
// required to close the breaker again.
const halfOpenSuccesses = 2

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold opens the breaker once this many failures land inside
	// MonitoringWindow.
	FailureThreshold int
	// ResetTimeout is how long after the last failure an open breaker allows
	// a half-open probe.
	ResetTimeout time.Duration
	// MonitoringWindow is the sliding window for failure counting.
	MonitoringWindow time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = 60 * time.Second
	}
	return c
}

// Breaker is a per-endpoint failure isolation state machine. State is process
// local and lives for the process lifetime; it is a safety valve per instance,
// not a cross-replica guarantee.
type Breaker struct {
	mu           sync.Mutex
	cfg          BreakerConfig
	state        string
	failures     []time.Time
	lastFailure  time.Time
	successes    int // consecutive successes while half-open
	now          func() time.Time
	onTransition func(to string)
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), state: StateClosed, now: time.Now}
}

// Execute runs fn unless the breaker is open with reset time remaining, in
// which case it returns an OpenError without invoking fn. The admission check
// and the call are deliberately not atomic: two concurrent half-open probes
// may both be admitted.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	now := b.now()
	b.pruneLocked(now)
	if b.state == StateOpen {
		remaining := b.cfg.ResetTimeout - now.Sub(b.lastFailure)
		if remaining > 0 {
			b.mu.Unlock()
			return &OpenError{RetryAfter: remaining}
		}
		b.transitionLocked(StateHalfOpen)
		b.successes = 0
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailureLocked(b.now())
		return err
	}
	b.recordSuccessLocked()
	return nil
}

// State returns the current state after pruning stale failures.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
	return b.state
}

func (b *Breaker) recordSuccessLocked() {
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= halfOpenSuccesses {
			b.transitionLocked(StateClosed)
			b.failures = nil
			b.successes = 0
		}
	}
}

func (b *Breaker) recordFailureLocked(now time.Time) {
	b.lastFailure = now
	if b.state == StateHalfOpen {
		b.transitionLocked(StateOpen)
		b.successes = 0
		return
	}
	b.failures = append(b.failures, now)
	b.pruneLocked(now)
	if b.state == StateClosed && len(b.failures) >= b.cfg.FailureThreshold {
		b.transitionLocked(StateOpen)
	}
}

// pruneLocked drops failure timestamps older than the monitoring window.
// Windowed, not cumulative, counting.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringWindow)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = append([]time.Time(nil), b.failures[i:]...)
	}
}

func (b *Breaker) transitionLocked(to string) {
	if b.state == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(to)
	}
}

// Breakers is a lazily populated map of breakers keyed by endpoint URL, shared
// by all dispatches in the process.
type Breakers struct {
	mu  sync.Mutex
	cfg BreakerConfig
	m   map[string]*Breaker

	// OnTransition, when set, observes every state change with the endpoint
	// URL. Used for metrics.
	OnTransition func(url, to string)
}

func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg.withDefaults(), m: map[string]*Breaker{}}
}

// Get returns the breaker for url, creating it on first use.
func (bs *Breakers) Get(url string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b := bs.m[url]
	if b == nil {
		b = NewBreaker(bs.cfg)
		if bs.OnTransition != nil {
			b.onTransition = func(to string) { bs.OnTransition(url, to) }
		}
		bs.m[url] = b
	}
	return b
}
