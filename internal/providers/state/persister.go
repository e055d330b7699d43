package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/resilience"
)

// PersistenceFailure reports a state write that was given up on
type PersistenceFailure struct {
	InstanceID string
	Attempts   int
	Err        error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persist state for %s failed after %d attempt(s): %v", e.InstanceID, e.Attempts, e.Err)
}

func (e *PersistenceFailure) Unwrap() error {
	return e.Err
}

// PersisterConfig configures write behaviour
type PersisterConfig struct {
	Debounce     time.Duration
	MaxAttempts  int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	WriteTimeout time.Duration
}

// DefaultPersisterConfig returns the standard debounce and retry policy
func DefaultPersisterConfig() PersisterConfig {
	return PersisterConfig{
		Debounce:     500 * time.Millisecond,
		MaxAttempts:  4,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

type pending struct {
	blob  []byte
	timer *time.Timer
	gen   uint64
}

// Persister debounces per-instance writes to a Store. Only tracked
// instances are written; Release and Purge end tracking.
type Persister struct {
	store   Store
	config  PersisterConfig
	breaker *resilience.Breaker
	backoff retryablehttp.Backoff
	logger  *zap.Logger
	metrics *monitoring.Metrics

	onFailure func(PersistenceFailure)

	mu      sync.Mutex
	pending map[string]*pending
	live    map[string]*sync.Mutex // tracked instance -> write lock
	gen     uint64
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPersister creates a persister writing to store
func NewPersister(store Store, config PersisterConfig, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultPersisterConfig()
	if config.Debounce <= 0 {
		config.Debounce = d.Debounce
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = d.MaxAttempts
	}
	if config.RetryWaitMin <= 0 {
		config.RetryWaitMin = d.RetryWaitMin
	}
	if config.RetryWaitMax < config.RetryWaitMin {
		config.RetryWaitMax = config.RetryWaitMin
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = d.WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Persister{
		store:   store,
		config:  config,
		backoff: retryablehttp.DefaultBackoff,
		logger:  logger.Named("persister"),
		pending: make(map[string]*pending),
		live:    make(map[string]*sync.Mutex),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.breaker = resilience.New("state-store", resilience.Settings{
		Timeout:       15 * time.Second,
		ReadyToTrip:   resilience.ConsecutiveFailures(5),
		OnStateChange: p.breakerChanged,
	})
	return p
}

func (p *Persister) breakerChanged(name string, from, to resilience.State) {
	p.logger.Warn("State store breaker changed state",
		zap.String("breaker", name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	p.metrics.SetBreakerState(name, int(to))
}

// WithMetrics adds metrics tracking to the persister
func (p *Persister) WithMetrics(metrics *monitoring.Metrics) *Persister {
	p.metrics = metrics
	return p
}

// OnFailure installs a callback for writes that were given up on
func (p *Persister) OnFailure(fn func(PersistenceFailure)) *Persister {
	p.onFailure = fn
	return p
}

// Load reads the saved blob for instanceID
func (p *Persister) Load(ctx context.Context, instanceID string) ([]byte, bool, error) {
	return p.store.GetState(ctx, instanceID)
}

// Track admits writes for instanceID until it is released or purged
func (p *Persister) Track(instanceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[instanceID]; !ok {
		p.live[instanceID] = &sync.Mutex{}
	}
}

// Tracked reports whether writes for instanceID are admitted
func (p *Persister) Tracked(instanceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[instanceID]
	return ok
}

// Schedule records blob as the latest state of instanceID and writes it
// once no newer state arrives within the debounce window. State for an
// instance that is not tracked is dropped.
func (p *Persister) Schedule(instanceID string, blob []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("State dropped after close", zap.String("instance_id", instanceID))
		return false
	}
	if _, ok := p.live[instanceID]; !ok {
		p.logger.Debug("State dropped for untracked instance", zap.String("instance_id", instanceID))
		return false
	}

	p.gen++
	gen := p.gen
	if w, ok := p.pending[instanceID]; ok {
		w.timer.Stop()
	}
	w := &pending{blob: clone(blob), gen: gen}
	w.timer = time.AfterFunc(p.config.Debounce, func() { p.fire(instanceID, gen) })
	p.pending[instanceID] = w
	return true
}

// Pending reports whether instanceID has an unwritten state
func (p *Persister) Pending(instanceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[instanceID]
	return ok
}

// Release writes any pending state for instanceID, waiting for a write
// already in flight, then stops tracking it. Later schedules are dropped.
func (p *Persister) Release(ctx context.Context, instanceID string) error {
	l, ok := p.writeLock(instanceID)
	if !ok {
		return nil
	}
	l.Lock()
	defer l.Unlock()

	var err error
	if blob, ok := p.take(instanceID, 0); ok {
		err = p.write(ctx, instanceID, blob)
	}
	p.untrack(instanceID, l)
	return err
}

// Purge drops any pending state for instanceID, waits for a write already
// in flight, stops tracking it and deletes its saved state. No write for
// the instance lands after Purge returns.
func (p *Persister) Purge(ctx context.Context, instanceID string) error {
	if l, ok := p.writeLock(instanceID); ok {
		l.Lock()
		defer l.Unlock()
		p.take(instanceID, 0)
		p.untrack(instanceID, l)
	}
	return p.store.DeleteState(ctx, instanceID)
}

// Flush writes pending state now. With no ids every tracked instance is
// flushed. It waits for writes already in flight.
func (p *Persister) Flush(ctx context.Context, instanceIDs ...string) error {
	if len(instanceIDs) == 0 {
		p.mu.Lock()
		for id := range p.live {
			instanceIDs = append(instanceIDs, id)
		}
		p.mu.Unlock()
	}

	var errs []error
	for _, id := range instanceIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.flush(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes everything and rejects later schedules
func (p *Persister) Close(ctx context.Context) error {
	err := p.Flush(ctx)
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	return err
}

func (p *Persister) flush(ctx context.Context, instanceID string) error {
	l, ok := p.writeLock(instanceID)
	if !ok {
		return nil
	}
	l.Lock()
	defer l.Unlock()
	if blob, ok := p.take(instanceID, 0); ok {
		return p.write(ctx, instanceID, blob)
	}
	return nil
}

// fire runs when the debounce window of generation gen closes
func (p *Persister) fire(instanceID string, gen uint64) {
	l, ok := p.writeLock(instanceID)
	if !ok {
		return
	}
	l.Lock()
	defer l.Unlock()
	if blob, ok := p.take(instanceID, gen); ok {
		_ = p.write(p.ctx, instanceID, blob)
	}
}

func (p *Persister) writeLock(instanceID string) (*sync.Mutex, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.live[instanceID]
	return l, ok
}

// take claims the pending blob of instanceID. A non-zero gen only claims
// that generation. Callers hold the instance's write lock.
func (p *Persister) take(instanceID string, gen uint64) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.pending[instanceID]
	if !ok || (gen != 0 && w.gen != gen) {
		return nil, false
	}
	w.timer.Stop()
	delete(p.pending, instanceID)
	return w.blob, true
}

// untrack forgets instanceID if l is still its write lock
func (p *Persister) untrack(instanceID string, l *sync.Mutex) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live[instanceID] == l {
		delete(p.live, instanceID)
	}
}

// write stores blob with retries. Callers hold the instance's write lock,
// so an older blob can never land after a newer one.
func (p *Persister) write(ctx context.Context, instanceID string, blob []byte) error {
	start := time.Now()
	var err error
	attempt := 0
	for attempt < p.config.MaxAttempts {
		attempt++
		err = p.breaker.Execute(ctx, func(ctx context.Context) error {
			wctx, cancel := context.WithTimeout(ctx, p.config.WriteTimeout)
			defer cancel()
			return p.store.SetState(wctx, instanceID, blob)
		})
		if err == nil {
			p.metrics.RecordPersist("success", time.Since(start))
			return nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, ErrInvalidKey) || ctx.Err() != nil {
			break
		}
		if attempt < p.config.MaxAttempts {
			wait := p.backoff(p.config.RetryWaitMin, p.config.RetryWaitMax, attempt-1, nil)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
		}
	}

	failure := PersistenceFailure{InstanceID: instanceID, Attempts: attempt, Err: err}
	p.metrics.RecordPersist("failure", time.Since(start))
	p.logger.Error("State persistence failed",
		zap.String("instance_id", instanceID),
		zap.Int("attempts", attempt),
		zap.Error(err))
	if p.onFailure != nil {
		p.onFailure(failure)
	}
	return &failure
}
