// Package circuit guards remote cache tiers with a circuit breaker so a
// dead backend stops eating its timeout on every request.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests immediately.
	StateOpen
	// StateHalfOpen lets one probe request through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("circuit open")

// Config tunes a breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker. Defaults to 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long an open breaker rejects before probing the
	// backend again. Defaults to 30 seconds.
	Cooldown time.Duration `yaml:"cooldown"`
}

// Counts is a snapshot of a breaker's counters.
type Counts struct {
	Requests            uint64 `json:"requests"`
	Failures            uint64 `json:"failures"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// Breaker is a consecutive-failure circuit breaker. It trips after
// FailureThreshold failures in a row, rejects for Cooldown, then lets a
// single probe through: success closes it, failure re-opens it.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	counts        Counts
	openedAt      time.Time
	probeInFlight bool
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg}
}

// Allow reports whether a request may proceed. The caller must follow
// up with Record on every allowed request.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probeInFlight = false
		fallthrough
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
	}

	b.counts.Requests++
	return nil
}

// Record feeds the outcome of an allowed request back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++

	switch b.state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.probeInFlight = false
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// GetCounts returns a snapshot of the counters.
func (b *Breaker) GetCounts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.counts = Counts{}
	b.probeInFlight = false
}
