package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned without running the call while the breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when every half-open probe slot is taken
	ErrTooManyRequests = errors.New("too many requests")
)

// State of a breaker. The numeric values are exported as a gauge.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// Counts are the outcomes seen in the current window. A window ends on
// every state change and every Interval while closed.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// FailureRate is the share of finished calls that failed
func (c Counts) FailureRate() float64 {
	done := c.TotalSuccesses + c.TotalFailures
	if done == 0 {
		return 0
	}
	return float64(c.TotalFailures) / float64(done)
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Settings tunes a Breaker. Zero fields take the defaults applied by New.
type Settings struct {
	// MaxRequests is the number of probes admitted while half-open, and the
	// number of probe successes needed to close again (default 1)
	MaxRequests uint32
	// Interval clears the closed-state counts (default 60s)
	Interval time.Duration
	// Timeout is how long the breaker stays open (default 60s)
	Timeout time.Duration
	// ReadyToTrip decides after each closed-state failure (default: more
	// than 5 consecutive failures)
	ReadyToTrip func(Counts) bool
	// IsSuccessful classifies a call's error (default: nil or context.Canceled)
	IsSuccessful func(error) bool
	// OnStateChange runs under the breaker lock and must not call back into it
	OnStateChange func(name string, from, to State)
}

// ConsecutiveFailures trips after n failures in a row
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

// FailureRatio trips once at least min calls were made in the window and
// more than ratio of them failed
func FailureRatio(min uint32, ratio float64) func(Counts) bool {
	return func(c Counts) bool { return c.Requests >= min && c.FailureRate() > ratio }
}

// Any trips when any of the given policies does
func Any(policies ...func(Counts) bool) func(Counts) bool {
	return func(c Counts) bool {
		for _, trip := range policies {
			if trip(c) {
				return true
			}
		}
		return false
	}
}

// window is one counting period; gen lets late outcomes from an earlier
// window be discarded
type window struct {
	gen    uint64
	counts Counts
	ends   time.Time
}

// Breaker fails calls fast while a dependency is unhealthy
type Breaker struct {
	name     string
	settings Settings

	mu    sync.Mutex
	state State
	win   window
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval <= 0 {
		settings.Interval = time.Minute
	}
	if settings.Timeout <= 0 {
		settings.Timeout = time.Minute
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = ConsecutiveFailures(6)
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}

	b := &Breaker{name: name, settings: settings}
	b.win.ends = time.Now().Add(settings.Interval)
	return b
}

// Name returns the breaker's name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the state after applying any elapsed timeout
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick(time.Now())
	return b.state
}

// Counts returns a copy of the current window's counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.win.counts
}

// Allow reports whether a call would be admitted now, without taking a
// half-open probe slot
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick(time.Now())
	return b.admits()
}

// Execute runs fn through the breaker
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn through the breaker and returns its result. A panic in fn is
// recorded as a failure and re-raised.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	gen, err := b.enter()
	if err != nil {
		return zero, err
	}

	finished := false
	defer func() {
		if !finished {
			b.leave(gen, false)
		}
	}()

	result, err := fn(ctx)
	finished = true
	b.leave(gen, b.settings.IsSuccessful(err))
	return result, err
}

func (b *Breaker) admits() bool {
	switch b.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		return b.win.counts.Requests < b.settings.MaxRequests
	}
	return true
}

func (b *Breaker) enter() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tick(time.Now())
	if !b.admits() {
		if b.state == StateOpen {
			return 0, ErrCircuitOpen
		}
		return 0, ErrTooManyRequests
	}
	b.win.counts.Requests++
	return b.win.gen, nil
}

func (b *Breaker) leave(gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tick(now)
	if gen != b.win.gen {
		return
	}

	if ok {
		b.win.counts.success()
		if b.state == StateHalfOpen && b.win.counts.ConsecutiveSuccesses >= b.settings.MaxRequests {
			b.moveTo(StateClosed, now)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.win.counts.failure()
		if b.settings.ReadyToTrip(b.win.counts) {
			b.moveTo(StateOpen, now)
		}
	case StateHalfOpen:
		b.moveTo(StateOpen, now)
	}
}

// tick applies time-driven transitions. Caller holds mu.
func (b *Breaker) tick(now time.Time) {
	if b.win.ends.IsZero() || now.Before(b.win.ends) {
		return
	}
	switch b.state {
	case StateClosed:
		b.reset(now)
	case StateOpen:
		b.moveTo(StateHalfOpen, now)
	}
}

func (b *Breaker) moveTo(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.reset(now)

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

// reset opens a new window for the current state. Half-open windows end
// on the probes' outcome, not on time.
func (b *Breaker) reset(now time.Time) {
	b.win = window{gen: b.win.gen + 1}
	switch b.state {
	case StateClosed:
		b.win.ends = now.Add(b.settings.Interval)
	case StateOpen:
		b.win.ends = now.Add(b.settings.Timeout)
	}
}
