package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
)

// Wildcard subscribes to every event name
const Wildcard = "*"

// Event is one delivery
type Event struct {
	Name    string
	Payload interface{}
	Scope   types.Scope
	// Source is the emitting instance, empty for host-originated events
	Source string
	// Origin is the canvas the event was first emitted on
	Origin string
	// Remote is set for events received through the cross-canvas router
	Remote bool
}

// Handler receives events
type Handler func(Event)

// Forwarder carries global emissions to other canvases
type Forwarder interface {
	Forward(ev Event)
}

type subscription struct {
	id      string
	event   string
	kind    types.ScopeKind
	owner   string
	handler Handler
}

// Bus is the subscription table of one canvas
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscription // registration order
	canvasID  string
	forwarder Forwarder
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// New creates an empty bus for a canvas
func New(canvasID string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		canvasID: canvasID,
		logger:   logger.Named("bus"),
	}
}

// WithMetrics adds metrics tracking to the bus
func (b *Bus) WithMetrics(metrics *monitoring.Metrics) *Bus {
	b.metrics = metrics
	return b
}

// SetForwarder installs the cross-canvas path for global emissions
func (b *Bus) SetForwarder(f Forwarder) {
	b.mu.Lock()
	b.forwarder = f
	b.mu.Unlock()
}

// On subscribes handler to event within scope. owner is the instance that
// holds the subscription, empty for host subscribers. The returned function
// unsubscribes and is safe to call more than once.
func (b *Bus) On(event string, scope types.Scope, owner string, handler Handler) func() {
	kind := scope.Kind
	if kind == "" {
		kind = types.ScopeCanvas
	}
	sub := &subscription{
		id:      id.NewSubscriptionID().String(),
		event:   event,
		kind:    kind,
		owner:   owner,
		handler: handler,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == subID {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// RevokeOwner removes every subscription held by owner and returns how many
// were removed
func (b *Bus) RevokeOwner(owner string) int {
	if owner == "" {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subs[:0:0]
	for _, s := range b.subs {
		if s.owner != owner {
			kept = append(kept, s)
		}
	}
	removed := len(b.subs) - len(kept)
	b.subs = kept
	return removed
}

// Count returns the number of live subscriptions
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit delivers an event emitted on this canvas by source (empty for the
// host). Global emissions are forwarded after local delivery. It returns
// the number of local handlers invoked.
func (b *Bus) Emit(event string, payload interface{}, scope types.Scope, source string) int {
	if scope.Kind == "" {
		scope.Kind = types.ScopeCanvas
	}
	if scope.Kind == types.ScopeInstance && scope.InstanceID == "" {
		scope.InstanceID = source
	}

	ev := Event{
		Name:    event,
		Payload: payload,
		Scope:   scope,
		Source:  source,
		Origin:  b.canvasID,
	}
	b.metrics.RecordBusEmit(string(scope.Kind))

	n := b.Deliver(ev)

	if scope.Kind == types.ScopeGlobal {
		b.mu.RLock()
		f := b.forwarder
		b.mu.RUnlock()
		if f != nil {
			f.Forward(ev)
		}
	}
	return n
}

// Deliver runs matching handlers for ev without forwarding it. The
// cross-canvas router uses it for inbound events.
func (b *Bus) Deliver(ev Event) int {
	matched := b.match(ev)
	for _, s := range matched {
		b.invoke(s, ev)
	}
	return len(matched)
}

// match snapshots matching subscriptions so handlers may subscribe or
// unsubscribe while being invoked
func (b *Bus) match(ev Event) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []*subscription
	for _, s := range b.subs {
		if s.event != Wildcard && s.event != ev.Name {
			continue
		}
		if reaches(ev.Scope, s) {
			matched = append(matched, s)
		}
	}
	return matched
}

func reaches(scope types.Scope, s *subscription) bool {
	switch scope.Kind {
	case types.ScopeInstance:
		return s.kind == types.ScopeInstance && s.owner != "" && s.owner == scope.InstanceID
	case types.ScopeCanvas:
		return s.kind == types.ScopeCanvas
	case types.ScopeGlobal:
		return s.kind == types.ScopeCanvas || s.kind == types.ScopeGlobal
	default:
		return false
	}
}

func (b *Bus) invoke(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordHandlerPanic("bus")
			b.logger.Warn("Event handler panicked",
				zap.String("event", ev.Name),
				zap.String("owner", s.owner),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(ev)
}
