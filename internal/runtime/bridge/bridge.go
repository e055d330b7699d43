package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/utils"
)

// Config configures a bridge
type Config struct {
	AllowedOrigins []string
	QueueSize      int
	Rate           float64
	Burst          int
}

// DefaultConfig accepts only opaque sandboxed origins
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"null"},
		QueueSize:      4096,
		Rate:           200,
		Burst:          400,
	}
}

type entry struct {
	handle  *Handle
	limiter *rate.Limiter
}

// Bridge validates and classifies traffic for one canvas
type Bridge struct {
	mu      sync.RWMutex
	entries map[string]*entry
	allowed map[string]struct{}
	config  Config
	sink    Sink

	queue     chan Message
	done      chan struct{}
	closeOnce sync.Once

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// New creates a bridge delivering accepted messages to sink
func New(config Config, sink Sink, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	allowed := make(map[string]struct{}, len(config.AllowedOrigins))
	for _, o := range config.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Bridge{
		entries: make(map[string]*entry),
		allowed: allowed,
		config:  config,
		sink:    sink,
		queue:   make(chan Message, config.QueueSize),
		done:    make(chan struct{}),
		logger:  logger.Named("bridge"),
	}
}

// WithMetrics adds metrics tracking to the bridge
func (b *Bridge) WithMetrics(metrics *monitoring.Metrics) *Bridge {
	b.metrics = metrics
	return b
}

// Register trusts messages from handle for instanceID. A later Register
// for the same instance replaces the previous handle.
func (b *Bridge) Register(instanceID string, handle *Handle) {
	limit := rate.Inf
	if b.config.Rate > 0 {
		limit = rate.Limit(b.config.Rate)
	}
	burst := b.config.Burst
	if burst <= 0 {
		burst = 1
	}

	b.mu.Lock()
	b.entries[instanceID] = &entry{handle: handle, limiter: rate.NewLimiter(limit, burst)}
	b.mu.Unlock()
}

// Deregister forgets an instance's handle. Messages still queued from it
// are dropped when they are drained.
func (b *Bridge) Deregister(instanceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[instanceID]; !ok {
		return false
	}
	delete(b.entries, instanceID)
	return true
}

// Registered reports whether instanceID has a registered handle
func (b *Bridge) Registered(instanceID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.entries[instanceID]
	return ok
}

// Submit enqueues a message for the host loop without blocking
func (b *Bridge) Submit(msg Message) {
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.queue <- msg:
	default:
		b.metrics.RecordDrop(ReasonOverflow)
		b.logger.Warn("Inbound queue full, message dropped",
			zap.String("instance_id", msg.InstanceID),
			zap.String("type", msg.Type),
		)
	}
}

// Run drains the inbound queue until ctx is done or the bridge is closed
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case msg := <-b.queue:
			if err := b.Receive(msg); err != nil {
				b.logger.Debug("Message rejected", zap.Error(err))
			}
		}
	}
}

// Close stops Run and refuses further submissions
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Receive validates one message and hands it to the sink
func (b *Bridge) Receive(msg Message) error {
	if err := b.authenticate(msg); err != nil {
		b.reject(err)
		return err
	}
	if err := b.dispatch(msg); err != nil {
		b.reject(err)
		return err
	}
	b.metrics.RecordMessage(msg.Type)
	return nil
}

func (b *Bridge) authenticate(msg Message) error {
	if _, ok := b.allowed[msg.Origin]; !ok {
		return &ValidationError{Reason: ReasonOrigin, InstanceID: msg.InstanceID, Type: msg.Type}
	}

	b.mu.RLock()
	e, ok := b.entries[msg.InstanceID]
	b.mu.RUnlock()

	if !ok {
		return &ValidationError{Reason: ReasonUnregistered, InstanceID: msg.InstanceID, Type: msg.Type}
	}
	if msg.Source == nil || msg.Source != e.handle {
		return &ValidationError{Reason: ReasonSource, InstanceID: msg.InstanceID, Type: msg.Type}
	}
	if !e.limiter.Allow() {
		return &ValidationError{Reason: ReasonRate, InstanceID: msg.InstanceID, Type: msg.Type}
	}
	if err := utils.ValidateSize(msg.Data, utils.MaxMessageSize, "message"); err != nil {
		return &ValidationError{Reason: ReasonSize, InstanceID: msg.InstanceID, Type: msg.Type, Err: err}
	}
	return nil
}

func (b *Bridge) dispatch(msg Message) error {
	malformed := func(err error) error {
		return &ValidationError{Reason: ReasonMalformed, InstanceID: msg.InstanceID, Type: msg.Type, Err: err}
	}
	id := msg.InstanceID

	switch msg.Type {
	case TypeOutput:
		var p OutputPayload
		if err := decode(msg.Data, &p); err != nil {
			return malformed(err)
		}
		if err := utils.ValidatePortName(p.Port); err != nil {
			return malformed(err)
		}
		b.sink.Output(id, p)

	case TypeState:
		var partial map[string]interface{}
		if err := decode(msg.Data, &partial); err != nil {
			return malformed(err)
		}
		if partial == nil {
			return malformed(errors.New("state update must be an object"))
		}
		if err := utils.ValidateJSONDepth(partial, utils.MaxJSONDepth); err != nil {
			return malformed(err)
		}
		b.sink.State(id, partial)

	case TypeLog:
		var p LogPayload
		if err := decode(msg.Data, &p); err != nil {
			return malformed(err)
		}
		b.sink.Log(id, p)

	case TypeRequest:
		var req capability.Request
		if err := decode(msg.Data, &req); err != nil {
			return malformed(err)
		}
		if req.ID == "" || req.Capability == "" {
			return malformed(errors.New("request requires id and capability"))
		}
		b.sink.Request(id, req)

	case TypeSubscribe:
		var p SubscribePayload
		if err := decode(msg.Data, &p); err != nil {
			return malformed(err)
		}
		if err := utils.ValidateEventName(p.Event); err != nil || p.ID == "" {
			return malformed(fmt.Errorf("invalid subscription %q", p.Event))
		}
		b.sink.Subscribe(id, p)

	case TypeUnsubscribe:
		var p UnsubscribePayload
		if err := decode(msg.Data, &p); err != nil {
			return malformed(err)
		}
		b.sink.Unsubscribe(id, p)

	case TypeEmit:
		var p EmitPayload
		if err := decode(msg.Data, &p); err != nil {
			return malformed(err)
		}
		if p.Event == "*" {
			return malformed(errors.New("cannot emit the wildcard event"))
		}
		if err := utils.ValidateEventName(p.Event); err != nil {
			return malformed(err)
		}
		b.sink.Emit(id, p)

	default:
		return &ValidationError{Reason: ReasonType, InstanceID: id, Type: msg.Type}
	}
	return nil
}

func (b *Bridge) reject(err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		b.metrics.RecordDrop(verr.Reason)
	}
}

// Send delivers out to exactly the registered handle of instanceID
func (b *Bridge) Send(instanceID string, out Outbound) error {
	b.mu.RLock()
	e, ok := b.entries[instanceID]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, instanceID)
	}
	if !e.handle.post(out) {
		return fmt.Errorf("%w: %s", ErrHandleClosed, instanceID)
	}
	return nil
}

func decode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return errors.New("empty body")
	}
	return sonic.Unmarshal(data, v)
}
