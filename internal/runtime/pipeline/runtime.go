package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/utils"
)

var (
	ErrDuplicateEdge     = errors.New("edge already exists")
	ErrEdgeNotFound      = errors.New("edge not found")
	ErrAlreadyRegistered = errors.New("instance already registered")
)

// RoutingMiss reports an edge endpoint that is not a registered port
type RoutingMiss struct {
	Edge   types.Edge
	Port   types.Port
	Reason string
}

func (e *RoutingMiss) Error() string {
	return fmt.Sprintf("routing miss on %s: %s %s.%s %s",
		e.Edge, e.Port.Direction, e.Port.InstanceID, e.Port.Name, e.Reason)
}

// Rejection pairs a refused edge with the reason, for the editor
type Rejection struct {
	Edge   types.Edge `json:"edge"`
	Reason string     `json:"reason"`
	Err    error      `json:"-"`
}

// Dispatcher delivers a value into a target instance's input port. It
// returns false when the value was not enqueued.
type Dispatcher interface {
	DispatchInput(instanceID, port string, value interface{}) bool
}

type ports struct {
	inputs  map[string]struct{}
	outputs map[string]struct{}
}

// Runtime holds registered ports and the ordered edge set of one canvas
type Runtime struct {
	mu         sync.RWMutex
	widgets    map[string]*ports
	edges      []types.Edge
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *monitoring.Metrics
}

// NewRuntime creates a runtime that delivers through dispatcher
func NewRuntime(dispatcher Dispatcher, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		widgets:    make(map[string]*ports),
		dispatcher: dispatcher,
		logger:     logger.Named("pipeline"),
	}
}

// WithMetrics adds metrics tracking to the runtime
func (r *Runtime) WithMetrics(metrics *monitoring.Metrics) *Runtime {
	r.metrics = metrics
	return r
}

// RegisterWidget makes an instance's declared ports eligible for edges
func (r *Runtime) RegisterWidget(instanceID string, inputs, outputs []string) error {
	p := &ports{
		inputs:  make(map[string]struct{}, len(inputs)),
		outputs: make(map[string]struct{}, len(outputs)),
	}
	for _, name := range inputs {
		if err := utils.ValidatePortName(name); err != nil {
			return err
		}
		p.inputs[name] = struct{}{}
	}
	for _, name := range outputs {
		if err := utils.ValidatePortName(name); err != nil {
			return err
		}
		p.outputs[name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.widgets[instanceID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, instanceID)
	}
	r.widgets[instanceID] = p
	return nil
}

// UnregisterWidget removes an instance's ports and every edge touching
// them. The removed edges are returned so the editor can be told.
func (r *Runtime) UnregisterWidget(instanceID string) []types.Edge {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.widgets, instanceID)

	var removed []types.Edge
	kept := r.edges[:0:0]
	for _, e := range r.edges {
		if e.Touches(instanceID) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	r.edges = kept
	return removed
}

// Registered reports whether an instance's ports are registered
func (r *Runtime) Registered(instanceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.widgets[instanceID]
	return ok
}

// AddEdge validates and appends an edge
func (r *Runtime) AddEdge(e types.Edge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validate(e); err != nil {
		r.metrics.RecordRoutingMiss("edge")
		return err
	}
	if r.indexOf(e) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateEdge, e)
	}
	r.edges = append(r.edges, e)
	return nil
}

// RemoveEdge deletes an edge
func (r *Runtime) RemoveEdge(e types.Edge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(e)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, e)
	}
	r.edges = append(r.edges[:i:i], r.edges[i+1:]...)
	return nil
}

// SetEdges replaces the edge set with the valid edges of the editor's
// ordered list, keeping their order, and returns every rejected edge
func (r *Runtime) SetEdges(edges []types.Edge) []Rejection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rejections []Rejection
	next := make([]types.Edge, 0, len(edges))
	seen := make(map[types.Edge]struct{}, len(edges))

	for _, e := range edges {
		if err := r.validate(e); err != nil {
			r.metrics.RecordRoutingMiss("edge")
			rejections = append(rejections, Rejection{Edge: e, Reason: err.Error(), Err: err})
			continue
		}
		if _, dup := seen[e]; dup {
			err := fmt.Errorf("%w: %s", ErrDuplicateEdge, e)
			rejections = append(rejections, Rejection{Edge: e, Reason: err.Error(), Err: err})
			continue
		}
		seen[e] = struct{}{}
		next = append(next, e)
	}

	r.edges = next
	return rejections
}

// Edges returns a copy of the edge set in registration order
func (r *Runtime) Edges() []types.Edge {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Edge, len(r.edges))
	copy(out, r.edges)
	return out
}

// RouteOutput dispatches value along every edge leaving (instanceID, port)
// and returns how many targets accepted it
func (r *Runtime) RouteOutput(instanceID, port string, value interface{}) int {
	r.mu.RLock()
	var targets []types.Edge
	for _, e := range r.edges {
		if e.SourceInstanceID == instanceID && e.SourcePort == port {
			targets = append(targets, e)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, e := range targets {
		if r.dispatch(e, value) {
			delivered++
		}
	}
	r.metrics.RecordDeliveries(delivered)
	return delivered
}

func (r *Runtime) dispatch(e types.Edge, value interface{}) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordHandlerPanic("pipeline")
			r.logger.Warn("Dispatch panicked",
				zap.Stringer("edge", e),
				zap.Any("panic", rec),
			)
			ok = false
		}
	}()
	return r.dispatcher.DispatchInput(e.TargetInstanceID, e.TargetPort, value)
}

// validate must be called with mu held
func (r *Runtime) validate(e types.Edge) error {
	if err := r.checkPort(e, e.Source()); err != nil {
		return err
	}
	return r.checkPort(e, e.Target())
}

func (r *Runtime) checkPort(e types.Edge, p types.Port) error {
	w, ok := r.widgets[p.InstanceID]
	if !ok {
		return &RoutingMiss{Edge: e, Port: p, Reason: "instance not registered"}
	}
	declared := w.outputs
	if p.Direction == types.DirectionInput {
		declared = w.inputs
	}
	if _, ok := declared[p.Name]; !ok {
		return &RoutingMiss{Edge: e, Port: p, Reason: "port not declared"}
	}
	return nil
}

func (r *Runtime) indexOf(e types.Edge) int {
	for i, existing := range r.edges {
		if existing == e {
			return i
		}
	}
	return -1
}
