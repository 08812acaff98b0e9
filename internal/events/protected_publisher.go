package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type breakerState string

const (
	stateClosed   breakerState = "closed"
	stateOpen     breakerState = "open"
	stateHalfOpen breakerState = "half_open"
)

type ProtectedPublisherConfig struct {
	Timeout          time.Duration // hard timeout per publish
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // allow N trial calls in half-open
}

// ProtectedPublisher wraps a Publisher with a per-call timeout and a circuit
// breaker so a dead broker cannot stall request handling.
type ProtectedPublisher struct {
	inner Publisher
	cfg   ProtectedPublisherConfig
	now   func() time.Time

	mu                  sync.Mutex
	state               breakerState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func NewProtectedPublisher(inner Publisher, cfg ProtectedPublisherConfig) *ProtectedPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &ProtectedPublisher{
		inner: inner,
		cfg:   cfg,
		now:   time.Now,
		state: stateClosed,
	}
}

func (p *ProtectedPublisher) PublishLoanEvent(ctx context.Context, ev LoanEvent) error {
	if !p.allowRequest() {
		return ErrCircuitOpen
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	err := p.inner.PublishLoanEvent(pubCtx, ev)

	p.afterRequest(err)

	return err
}

// State reports the breaker state, mostly for tests and logs.
func (p *ProtectedPublisher) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.state)
}

func (p *ProtectedPublisher) allowRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateOpen:
		if p.now().Sub(p.openedAt) < p.cfg.Cooldown {
			return false
		}
		p.state = stateHalfOpen
		p.halfOpenInFlight = 1
		return true
	case stateHalfOpen:
		if p.halfOpenInFlight >= p.cfg.HalfOpenMaxCalls {
			return false
		}
		p.halfOpenInFlight++
		return true
	default:
		return true
	}
}

func (p *ProtectedPublisher) afterRequest(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateHalfOpen && p.halfOpenInFlight > 0 {
		p.halfOpenInFlight--
	}

	if err == nil {
		p.consecutiveFailures = 0
		p.state = stateClosed
		return
	}

	p.consecutiveFailures++

	// a failed trial call reopens immediately
	if p.state == stateHalfOpen || p.consecutiveFailures >= p.cfg.FailureThreshold {
		p.state = stateOpen
		p.openedAt = p.now()
	}
}
