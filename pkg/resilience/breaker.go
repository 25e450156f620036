// Package resilience guards calls to flaky external services.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a Breaker.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected
	StateHalfOpen              // limited trial calls
)

func (s State) String() string {
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

// ErrCircuitOpen is returned without calling the guarded function while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// Name identifies the guarded service in logs.
	Name string
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before allowing a trial call.
	Cooldown time.Duration
	// HalfOpenMax is the number of concurrent trial calls in half-open state.
	HalfOpenMax int
	// Counts decides whether an error counts as a service failure. Nil counts
	// every error except context cancellation.
	Counts func(error) bool
}

// DefaultBreakerOpts trips after five straight failures and tries again after
// thirty seconds.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Cooldown:      30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	log      *zap.Logger
	state    State
	failures int
	openedAt time.Time
	trials   int
	now      func() time.Time
}

// NewBreaker creates a Breaker; zero option fields take their defaults.
func NewBreaker(opts BreakerOpts, log *zap.Logger) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	if opts.Counts == nil {
		opts.Counts = countsAsFailure
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Breaker{opts: opts, log: log.With(zap.String("breaker", opts.Name)), now: time.Now}
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState moves open to half-open once the cooldown elapsed. Must hold mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.setState(StateHalfOpen)
		b.trials = 0
	}
	return b.state
}

// setState records a transition. Must hold mu.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.log.Info("circuit breaker state change",
		zap.Stringer("from", b.state), zap.Stringer("to", s))
	b.state = s
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentState() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.trials >= b.opts.HalfOpenMax {
			return ErrCircuitOpen
		}
		b.trials++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil && b.opts.Counts(err) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.setState(StateOpen)
			b.openedAt = b.now()
			b.failures = 0
			b.trials = 0
		}
		return
	}
	if b.state == StateHalfOpen {
		if err != nil {
			// caller-side error: release the trial slot without a verdict
			b.trials--
			return
		}
		b.setState(StateClosed)
	}
	if err == nil {
		b.failures = 0
	}
}

// Do runs f through the breaker. An open breaker returns ErrCircuitOpen
// without calling f.
func Do[T any](ctx context.Context, b *Breaker, f func(context.Context) (T, error)) (T, error) {
	if err := b.admit(); err != nil {
		var zero T
		return zero, err
	}
	v, err := f(ctx)
	b.record(err)
	return v, err
}
