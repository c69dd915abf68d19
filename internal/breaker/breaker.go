// Package breaker implements a circuit breaker that isolates a failing
// dependency: after enough consecutive failures calls fail fast instead of
// piling onto a dependency that is known to be down.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpen is returned when the circuit is open and the call was refused
// without invoking the protected operation.
var ErrOpen = errors.New("circuit breaker is open")

// State of the breaker.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config tunes a breaker instance. Zero values fall back to the defaults.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening (default 5)
	SuccessThreshold int           // successes in half-open before closing (default 2)
	Timeout          time.Duration // open-state cool-down before probing (default 60s)
}

// Breaker guards one logical dependency. All state transitions happen under a
// single lock so concurrent callers observe a consistent state machine.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration

	state         State
	failureCount  int
	successCount  int
	lastFailureAt time.Time

	now    func() time.Time
	logger zerolog.Logger
}

// New creates a breaker in the closed state.
func New(cfg Config, logger zerolog.Logger) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "breaker"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Breaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		state:            StateClosed,
		now:              time.Now,
		logger:           logger.With().Str("breaker", cfg.Name).Logger(),
	}
}

// Execute runs fn under the breaker. While open and within the cool-down it
// returns ErrOpen without invoking fn; once the cool-down elapses the next
// call becomes the half-open probe.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()
	b.afterCall(err)
	return err
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed. Administrative recovery only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.successCount = 0
	b.state = StateClosed
	b.logger.Info().Msg("circuit breaker reset")
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.lastFailureAt) > b.timeout {
		b.state = StateHalfOpen
		b.logger.Info().Msg("state changed to HALF_OPEN")
		return nil
	}
	return ErrOpen
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	b.failureCount = 0

	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.successCount = 0
			b.logger.Info().Msg("state changed to CLOSED")
		}
	}
}

func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailureAt = b.now()
	b.successCount = 0

	// A single half-open failure reopens immediately; the failure threshold
	// only applies while closed.
	if b.state == StateHalfOpen || b.failureCount >= b.failureThreshold {
		if b.state != StateOpen {
			b.logger.Warn().Int("failure_count", b.failureCount).Msg("state changed to OPEN")
		}
		b.state = StateOpen
	}
}
