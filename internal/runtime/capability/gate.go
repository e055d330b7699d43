package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/utils"
)

// ErrPermissionDenied is returned for every refused capability request
var ErrPermissionDenied = errors.New("permission denied")

// Error names surfaced to widgets
const (
	ErrorPermissionDenied = "PermissionDenied"
	ErrorOperation        = "OperationError"
	ErrorTimeout          = "TimeoutError"
)

// DefaultTimeout bounds a single host operation
const DefaultTimeout = 30 * time.Second

// Request is a widget's call to widget.request(capability, args)
type Request struct {
	ID         string                 `json:"id"`
	Capability string                 `json:"capability"`
	Args       map[string]interface{} `json:"args,omitempty"`
}

// Result settles the promise returned to the widget
type Result struct {
	ID    string       `json:"id"`
	Value interface{}  `json:"value,omitempty"`
	Error *ResultError `json:"error,omitempty"`
}

// ResultError is the rejection value seen by the widget
type ResultError struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// Call carries the arguments of one invocation
type Call struct {
	InstanceID string
	Args       map[string]interface{}
}

// Operation is a host operation that widgets may request
type Operation struct {
	Name        string
	Description string
	Invoke      func(ctx context.Context, call Call) (interface{}, error)
}

// Tag returns the permission tag an operation name requires
func Tag(operation string) string {
	if i := strings.IndexByte(operation, '.'); i >= 0 {
		return operation[:i]
	}
	return operation
}

// Gate decides and executes capability requests
type Gate struct {
	mu      sync.RWMutex
	grants  map[string]map[string]struct{} // instance -> permission tags
	ops     map[string]Operation
	timeout time.Duration
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewGate creates a gate with no operations and no grants
func NewGate(logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		grants:  make(map[string]map[string]struct{}),
		ops:     make(map[string]Operation),
		timeout: DefaultTimeout,
		logger:  logger.Named("capability"),
	}
}

// WithMetrics adds metrics tracking to the gate
func (g *Gate) WithMetrics(metrics *monitoring.Metrics) *Gate {
	g.metrics = metrics
	return g
}

// WithTimeout overrides the per-operation timeout
func (g *Gate) WithTimeout(timeout time.Duration) *Gate {
	if timeout > 0 {
		g.timeout = timeout
	}
	return g
}

// Register adds a host operation
func (g *Gate) Register(op Operation) error {
	if err := utils.ValidateOperation(op.Name); err != nil {
		return err
	}
	if op.Invoke == nil {
		return fmt.Errorf("operation %s has no implementation", op.Name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.ops[op.Name]; exists {
		return fmt.Errorf("operation %s already registered", op.Name)
	}
	g.ops[op.Name] = op
	return nil
}

// Operations lists registered operation names in sorted order
func (g *Gate) Operations() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.ops))
	for name := range g.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Grant resolves an instance's permission set from its manifest, replacing
// any previous grant
func (g *Gate) Grant(instanceID string, manifest *types.Manifest) {
	perms := make(map[string]struct{}, len(manifest.Permissions))
	for _, p := range manifest.Permissions {
		p = strings.TrimSpace(p)
		if p != "" {
			perms[p] = struct{}{}
		}
	}

	g.mu.Lock()
	g.grants[instanceID] = perms
	g.mu.Unlock()

	g.logger.Debug("Permissions granted",
		zap.String("instance_id", instanceID),
		zap.Strings("permissions", manifest.Permissions),
	)
}

// Revoke drops every permission of an instance
func (g *Gate) Revoke(instanceID string) {
	g.mu.Lock()
	delete(g.grants, instanceID)
	g.mu.Unlock()
}

// Permissions returns the granted tags of an instance
func (g *Gate) Permissions(instanceID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	perms := make([]string, 0, len(g.grants[instanceID]))
	for p := range g.grants[instanceID] {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}

// Check returns ErrPermissionDenied unless the instance holds the tag of a
// registered operation
func (g *Gate) Check(instanceID, capability string) error {
	_, err := g.resolve(instanceID, capability)
	return err
}

func (g *Gate) resolve(instanceID, capability string) (Operation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	perms, ok := g.grants[instanceID]
	if !ok {
		return Operation{}, ErrPermissionDenied
	}
	if _, ok := perms[Tag(capability)]; !ok {
		return Operation{}, ErrPermissionDenied
	}
	op, ok := g.ops[capability]
	if !ok {
		return Operation{}, ErrPermissionDenied
	}
	return op, nil
}

// Handle checks a request and, when allowed, runs the operation on its own
// goroutine. reply is called exactly once.
func (g *Gate) Handle(ctx context.Context, instanceID string, req Request, reply func(Result)) {
	op, err := g.resolve(instanceID, req.Capability)
	if err != nil {
		g.metrics.RecordCapability(Tag(req.Capability), "denied")
		g.logger.Info("Capability denied",
			zap.String("instance_id", instanceID),
			zap.String("capability", req.Capability),
		)
		reply(Result{ID: req.ID, Error: &ResultError{Name: ErrorPermissionDenied, Message: req.Capability}})
		return
	}

	go g.invoke(ctx, instanceID, op, req, reply)
}

func (g *Gate) invoke(ctx context.Context, instanceID string, op Operation, req Request, reply func(Result)) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	value, err := g.run(ctx, instanceID, op, req.Args)

	result := Result{ID: req.ID}
	switch {
	case err == nil:
		result.Value = value
		g.metrics.RecordCapability(Tag(op.Name), "success")
	case errors.Is(err, context.DeadlineExceeded):
		result.Error = &ResultError{Name: ErrorTimeout, Message: op.Name + " timed out"}
		g.metrics.RecordCapability(Tag(op.Name), "timeout")
	default:
		result.Error = &ResultError{Name: ErrorOperation, Message: err.Error()}
		g.metrics.RecordCapability(Tag(op.Name), "error")
		g.logger.Debug("Operation failed",
			zap.String("instance_id", instanceID),
			zap.String("operation", op.Name),
			zap.Error(err),
		)
	}
	reply(result)
}

// run invokes op, converting a panic into an error
func (g *Gate) run(ctx context.Context, instanceID string, op Operation, args map[string]interface{}) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.metrics.RecordHandlerPanic("capability")
			g.logger.Error("Operation panicked",
				zap.String("operation", op.Name),
				zap.Any("panic", r),
			)
			value, err = nil, errors.New("internal error")
		}
	}()
	return op.Invoke(ctx, Call{InstanceID: instanceID, Args: args})
}
