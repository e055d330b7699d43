package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/domain/catalog"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/providers/state"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bridge"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bus"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/pipeline"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/router"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/sandbox"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/utils"
)

// Options carries the shared dependencies of a canvas
type Options struct {
	ID         string
	Name       string
	Config     Config
	Hub        *router.Hub
	Catalog    *catalog.Catalog
	Persister  *state.Persister
	Operations []capability.Operation
	Logger     *zap.Logger
	Metrics    *monitoring.Metrics
	Tracer     *tracing.Tracer
}

// Info summarizes a canvas
type Info struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	Instances int          `json:"instances"`
	Edges     int          `json:"edges"`
	Router    router.Stats `json:"router"`
}

// Canvas is one editor surface and its widget instances
type Canvas struct {
	id        string
	name      string
	createdAt time.Time

	catalog   *catalog.Catalog
	persister *state.Persister
	bridge    *bridge.Bridge
	bus       *bus.Bus
	pipeline  *pipeline.Runtime
	host      *sandbox.Host
	gate      *capability.Gate
	node      *router.Node
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	instances map[string]*types.Instance
	order     []string
	subs      map[string]map[string]func() // instance -> widget subscription id -> unsubscribe
	closed    bool
}

// New assembles a canvas and starts its bridge loop
func New(opts Options) (*Canvas, error) {
	if opts.Hub == nil || opts.Catalog == nil || opts.Persister == nil {
		return nil, errors.New("canvas requires a hub, catalog and persister")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ID == "" {
		opts.ID = id.NewCanvasID().String()
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	logger = logger.Named("canvas").With(logging.Canvas(opts.ID))

	ctx, cancel := context.WithCancel(context.Background())
	c := &Canvas{
		id:        opts.ID,
		name:      opts.Name,
		createdAt: time.Now(),
		catalog:   opts.Catalog,
		persister: opts.Persister,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		ctx:       ctx,
		cancel:    cancel,
		instances: make(map[string]*types.Instance),
		subs:      make(map[string]map[string]func()),
	}

	c.bus = bus.New(c.id, logger).WithMetrics(opts.Metrics)
	c.bridge = bridge.New(opts.Config.Bridge, c, logger).WithMetrics(opts.Metrics)
	c.host = sandbox.NewHost(opts.Config.Sandbox, c.bridge, c.bus, logger).WithMetrics(opts.Metrics)
	c.pipeline = pipeline.NewRuntime(c.host, logger).WithMetrics(opts.Metrics)

	c.gate = capability.NewGate(logger).WithMetrics(opts.Metrics)
	if opts.Config.OperationTimeout > 0 {
		c.gate.WithTimeout(opts.Config.OperationTimeout)
	}
	ops := append([]capability.Operation{c.notificationOperation()}, opts.Operations...)
	for _, op := range ops {
		if err := c.gate.Register(op); err != nil {
			cancel()
			return nil, fmt.Errorf("register %s: %w", op.Name, err)
		}
	}

	node, err := router.NewNode(c.id, opts.Hub, opts.Config.Router, c.bus, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	c.node = node.WithMetrics(opts.Metrics)
	c.bus.SetForwarder(c.node)

	go c.bridge.Run(ctx)

	logger.Info("Canvas opened", zap.String("name", c.name))
	return c, nil
}

// ID returns the canvas id, which is also its router node id
func (c *Canvas) ID() string {
	return c.id
}

// Info returns a summary of the canvas
func (c *Canvas) Info() Info {
	c.mu.RLock()
	n := len(c.instances)
	c.mu.RUnlock()
	return Info{
		ID:        c.id,
		Name:      c.name,
		CreatedAt: c.createdAt,
		Instances: n,
		Edges:     len(c.pipeline.Edges()),
		Router:    c.node.Stats(),
	}
}

// AddWidget places a manifest on the canvas. With an empty instanceID a new
// id is generated; a known id restores that instance's saved state. Any
// failure unwinds everything done so far.
func (c *Canvas) AddWidget(ctx context.Context, manifestID, instanceID string) (*types.Instance, error) {
	w, err := c.catalog.Get(manifestID)
	if err != nil {
		return nil, err
	}
	if instanceID == "" {
		instanceID = id.NewInstanceID().String()
	} else if err := utils.ValidateID(instanceID, "instance id", true); err != nil {
		return nil, err
	}
	m := &w.Manifest

	inst := &types.Instance{
		ID:         instanceID,
		CanvasID:   c.id,
		ManifestID: m.ID,
		Version:    m.Version,
		State:      map[string]interface{}{},
		Status:     types.StatusCreated,
		CreatedAt:  time.Now(),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := c.instances[instanceID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInstanceExists, instanceID)
	}
	c.instances[instanceID] = inst
	c.order = append(c.order, instanceID)
	c.mu.Unlock()

	log := c.logger.With(logging.Instance(instanceID), zap.String("manifest_id", m.ID))
	fail := func(stage string, err error) (*types.Instance, error) {
		c.pipeline.UnregisterWidget(instanceID)
		c.gate.Revoke(instanceID)
		c.forget(instanceID)
		log.Warn("Widget could not be added", zap.String("stage", stage), zap.Error(err))
		return nil, err
	}

	if err := c.pipeline.RegisterWidget(instanceID, m.InputNames(), m.OutputNames()); err != nil {
		return fail("ports", err)
	}
	c.gate.Grant(instanceID, m)

	if err := c.host.Create(ctx, inst.Clone(), w.Payload); err != nil {
		return fail("load", err)
	}

	saved := c.loadState(ctx, instanceID)
	c.mu.Lock()
	inst.State = saved
	c.mu.Unlock()

	c.persister.Track(instanceID)
	if err := c.host.Mount(instanceID, copyState(saved), m.InputDefaults()); err != nil {
		c.host.Unmount(instanceID)
		_ = c.persister.Release(ctx, instanceID)
		return fail("mount", err)
	}

	log.Info("Widget mounted")
	c.noticeInstance(instanceID, types.StatusMounted)
	return c.Instance(instanceID)
}

// RemoveWidget unmounts an instance and drops every edge that referenced
// it. Its saved state is flushed, or deleted when purge is set; either way
// no later state write for the instance is accepted.
func (c *Canvas) RemoveWidget(ctx context.Context, instanceID string, purge bool) bool {
	if !c.forget(instanceID) {
		return false
	}

	c.host.Unmount(instanceID)
	dropped := c.pipeline.UnregisterWidget(instanceID)
	c.gate.Revoke(instanceID)

	if purge {
		if err := c.persister.Purge(ctx, instanceID); err != nil {
			c.logger.Warn("Failed to delete state", logging.Instance(instanceID), zap.Error(err))
		}
	} else if err := c.persister.Release(ctx, instanceID); err != nil {
		c.logger.Warn("Failed to flush state", logging.Instance(instanceID), zap.Error(err))
	}

	c.logger.Info("Widget removed", logging.Instance(instanceID), zap.Int("dropped_edges", len(dropped)))
	c.noticeInstance(instanceID, types.StatusUnmounted)
	return true
}

// forget removes the instance from the canvas tables
func (c *Canvas) forget(instanceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.instances[instanceID]; !ok {
		return false
	}
	delete(c.instances, instanceID)
	delete(c.subs, instanceID)
	for i, iid := range c.order {
		if iid == instanceID {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Activate hints that an instance became visible
func (c *Canvas) Activate(instanceID string) error {
	if err := c.host.Activate(instanceID); err != nil {
		return err
	}
	c.noticeInstance(instanceID, types.StatusActive)
	return nil
}

// Deactivate hints that an instance is no longer visible
func (c *Canvas) Deactivate(instanceID string) error {
	if err := c.host.Deactivate(instanceID); err != nil {
		return err
	}
	c.noticeInstance(instanceID, types.StatusInactive)
	return nil
}

// Instance returns a snapshot of one instance
func (c *Canvas) Instance(instanceID string) (*types.Instance, error) {
	c.mu.RLock()
	inst, ok := c.instances[instanceID]
	var snap *types.Instance
	if ok {
		snap = inst.Clone()
	}
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoInstance, instanceID)
	}
	if status, ok := c.host.Status(instanceID); ok {
		snap.Status = status
	}
	return snap, nil
}

// Instances returns snapshots of every instance in placement order
func (c *Canvas) Instances() []*types.Instance {
	c.mu.RLock()
	ids := append([]string(nil), c.order...)
	c.mu.RUnlock()

	out := make([]*types.Instance, 0, len(ids))
	for _, iid := range ids {
		if inst, err := c.Instance(iid); err == nil {
			out = append(out, inst)
		}
	}
	return out
}

// Edges returns the edge list in registration order
func (c *Canvas) Edges() []types.Edge {
	return c.pipeline.Edges()
}

// AddEdge connects two ports
func (c *Canvas) AddEdge(e types.Edge) error {
	err := c.pipeline.AddEdge(e)
	c.noticeRejection(e, err)
	return err
}

// RemoveEdge disconnects two ports
func (c *Canvas) RemoveEdge(e types.Edge) error {
	return c.pipeline.RemoveEdge(e)
}

// SetEdges replaces the edge list with the editor's ordered list and
// returns the edges that were refused
func (c *Canvas) SetEdges(edges []types.Edge) []pipeline.Rejection {
	rejections := c.pipeline.SetEdges(edges)
	for _, r := range rejections {
		c.noticeRejection(r.Edge, r.Err)
	}
	return rejections
}

// Publish emits a host-originated event on the canvas bus
func (c *Canvas) Publish(event string, payload interface{}, scope types.Scope) (int, error) {
	if err := utils.ValidateEventName(event); err != nil {
		return 0, err
	}
	if event == bus.Wildcard {
		return 0, errors.New("cannot emit the wildcard event")
	}
	return c.bus.Emit(event, payload, scope, ""), nil
}

// Observe subscribes a host-side observer to canvas and global events,
// host notices included
func (c *Canvas) Observe(event string, handler bus.Handler) func() {
	return c.bus.On(event, types.CanvasScope(), "", handler)
}

// Has reports whether the instance is on this canvas
func (c *Canvas) Has(instanceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.instances[instanceID]
	return ok
}

// Done is closed once Close has unmounted everything
func (c *Canvas) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close unmounts every instance, flushing their state, and leaves the hub
func (c *Canvas) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ids := append([]string(nil), c.order...)
	c.mu.Unlock()

	for _, iid := range ids {
		c.RemoveWidget(ctx, iid, false)
	}
	c.node.Close()
	c.bridge.Close()
	c.cancel()
	c.logger.Info("Canvas closed")
}

func (c *Canvas) loadState(ctx context.Context, instanceID string) map[string]interface{} {
	blob, ok, err := c.persister.Load(ctx, instanceID)
	if err != nil {
		c.logger.Warn("Failed to load state, mounting empty", logging.Instance(instanceID), zap.Error(err))
		return map[string]interface{}{}
	}
	if !ok {
		return map[string]interface{}{}
	}
	if err := utils.ValidateJSON(blob, utils.MaxStateSize); err != nil {
		c.logger.Warn("Discarding invalid state", logging.Instance(instanceID), zap.Error(err))
		return map[string]interface{}{}
	}
	var saved map[string]interface{}
	if err := sonic.Unmarshal(blob, &saved); err != nil || saved == nil {
		c.logger.Warn("Discarding unreadable state", logging.Instance(instanceID), zap.Error(err))
		return map[string]interface{}{}
	}
	return saved
}

func copyState(s map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
