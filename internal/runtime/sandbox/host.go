package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bridge"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
)

// Bridge is the part of the message bridge the host drives
type Bridge interface {
	Register(instanceID string, handle *bridge.Handle)
	Deregister(instanceID string) bool
	Submit(msg bridge.Message)
	Send(instanceID string, out bridge.Outbound) error
}

// Revoker bulk-removes Event Bus subscriptions owned by an instance
type Revoker interface {
	RevokeOwner(owner string) int
}

type entry struct {
	ctx    *wctx
	status types.Status
}

// Host owns the isolated contexts of one canvas
type Host struct {
	mu       sync.Mutex
	contexts map[string]*entry
	bridge   Bridge
	revoker  Revoker
	config   Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewHost creates a host whose contexts talk through br
func NewHost(config Config, br Bridge, revoker Revoker, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		contexts: make(map[string]*entry),
		bridge:   br,
		revoker:  revoker,
		config:   config.withDefaults(),
		logger:   logger.Named("sandbox"),
	}
}

// WithMetrics adds metrics tracking to the host
func (h *Host) WithMetrics(metrics *monitoring.Metrics) *Host {
	h.metrics = metrics
	return h
}

// Create builds an isolated context for instance, registers it with the
// bridge and evaluates payload. The context is ready when evaluation ends,
// or, when the payload called widget.deferReady, once it signals. Create
// returns a LoadError after which nothing of the context remains.
func (h *Host) Create(ctx context.Context, instance *types.Instance, payload string) error {
	instanceID := instance.ID
	c := newContext(instanceID, h.config, h.bridge.Submit,
		h.logger.With(zap.String("instance_id", instanceID)), h.metrics)

	h.mu.Lock()
	if _, exists := h.contexts[instanceID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, instanceID)
	}
	e := &entry{ctx: c, status: types.StatusCreated}
	h.contexts[instanceID] = e
	h.mu.Unlock()

	h.bridge.Register(instanceID, c.handle)
	go c.run()

	h.setStatus(instanceID, types.StatusLoading)
	start := time.Now()

	c.mailbox.push(func() { c.load(payload) })

	timer := time.NewTimer(h.config.LoadTimeout)
	defer timer.Stop()

	var loadErr *LoadError
	select {
	case err := <-c.ready:
		loadErr = loadFailure(instanceID, err)
	case <-timer.C:
		loadErr = expired(c)
	case <-ctx.Done():
		c.vm.Interrupt(ctx.Err())
		loadErr = &LoadError{InstanceID: instanceID, Reason: "cancelled", Err: ctx.Err()}
	}

	if loadErr != nil {
		h.metrics.RecordLoad(loadErr.Reason, time.Since(start))
		h.discard(instanceID)
		h.logger.Warn("Widget failed to load",
			zap.String("instance_id", instanceID),
			zap.String("reason", loadErr.Reason),
			zap.Error(loadErr.Err),
		)
		return loadErr
	}

	h.metrics.RecordLoad("ready", time.Since(start))
	h.logger.Debug("Widget ready",
		zap.String("instance_id", instanceID),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func loadFailure(instanceID string, err error) *LoadError {
	if err == nil {
		return nil
	}
	return &LoadError{InstanceID: instanceID, Reason: "exception", Err: err}
}

// expired classifies a load that outlived LoadTimeout. Evaluation still
// running is interrupted; a finished payload that deferred readiness and
// never signalled it is not ready.
func expired(c *wctx) *LoadError {
	if !c.evaluated.Load() {
		c.vm.Interrupt(ErrLoadTimeout)
		return &LoadError{InstanceID: c.instanceID, Reason: "timeout", Err: ErrLoadTimeout}
	}
	select {
	case err := <-c.ready:
		return loadFailure(c.instanceID, err)
	default:
		return &LoadError{InstanceID: c.instanceID, Reason: "not-ready", Err: ErrNotReady}
	}
}

// Mount delivers the mount lifecycle call with the saved state (an empty
// object on first mount) and the input-port defaults
func (h *Host) Mount(instanceID string, saved map[string]interface{}, inputs map[string]interface{}) error {
	if err := h.transition(instanceID, types.StatusMounted, types.StatusLoading); err != nil {
		return err
	}
	if saved == nil {
		saved = map[string]interface{}{}
	}
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	if err := h.bridge.Send(instanceID, bridge.Outbound{Type: bridge.OutMount, State: saved, Inputs: inputs}); err != nil {
		return err
	}
	h.metrics.InstanceMounted()
	return nil
}

// Activate hints that the widget became visible. The widget may ignore it.
func (h *Host) Activate(instanceID string) error {
	if err := h.transition(instanceID, types.StatusActive, types.StatusMounted, types.StatusInactive); err != nil {
		return err
	}
	return h.bridge.Send(instanceID, bridge.Outbound{Type: bridge.OutActivate})
}

// Deactivate hints that the widget is no longer visible
func (h *Host) Deactivate(instanceID string) error {
	if err := h.transition(instanceID, types.StatusInactive, types.StatusMounted, types.StatusActive); err != nil {
		return err
	}
	return h.bridge.Send(instanceID, bridge.Outbound{Type: bridge.OutDeactivate})
}

// Unmount delivers destroy, revokes the instance's bus subscriptions,
// deregisters its handle and releases the context. It reports false when
// there was nothing to unmount.
func (h *Host) Unmount(instanceID string) bool {
	h.mu.Lock()
	e, ok := h.contexts[instanceID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	wasLive := e.status.Live()
	e.status = types.StatusUnmounted
	delete(h.contexts, instanceID)
	h.mu.Unlock()

	if wasLive {
		if err := h.bridge.Send(instanceID, bridge.Outbound{Type: bridge.OutDestroy}); err != nil {
			h.logger.Debug("Destroy not delivered", zap.String("instance_id", instanceID), zap.Error(err))
		}
		h.metrics.InstanceUnmounted()
	}

	revoked := 0
	if h.revoker != nil {
		revoked = h.revoker.RevokeOwner(instanceID)
	}
	h.bridge.Deregister(instanceID)
	e.ctx.handle.Close()
	e.ctx.mailbox.close()

	h.logger.Debug("Widget unmounted",
		zap.String("instance_id", instanceID),
		zap.Int("revoked_subscriptions", revoked),
	)
	return true
}

// DispatchInput enqueues value for the instance's input handler for port.
// It never waits for the widget; an unknown port is a no-op inside the
// context.
func (h *Host) DispatchInput(instanceID, port string, value interface{}) bool {
	status, ok := h.Status(instanceID)
	if !ok || !status.Live() {
		return false
	}
	return h.bridge.Send(instanceID, bridge.Outbound{Type: bridge.OutInput, Port: port, Value: value}) == nil
}

// Status returns the lifecycle status of an instance
func (h *Host) Status(instanceID string) (types.Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.contexts[instanceID]
	if !ok {
		return types.StatusUnmounted, false
	}
	return e.status, true
}

// Count returns the number of contexts that have not been unmounted
func (h *Host) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.contexts)
}

// Close unmounts every context
func (h *Host) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.contexts))
	for id := range h.contexts {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Unmount(id)
	}
}

// wait blocks until a context goroutine exits
func (h *Host) wait(c *wctx, timeout time.Duration) bool {
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (h *Host) setStatus(instanceID string, status types.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.contexts[instanceID]; ok {
		e.status = status
	}
}

func (h *Host) transition(instanceID string, to types.Status, from ...types.Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.contexts[instanceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	for _, f := range from {
		if e.status == f {
			e.status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidState, e.status, to)
}

// discard tears down a context that never became ready
func (h *Host) discard(instanceID string) {
	h.mu.Lock()
	e, ok := h.contexts[instanceID]
	if ok {
		delete(h.contexts, instanceID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.bridge.Deregister(instanceID)
	e.ctx.handle.Close()
	e.ctx.mailbox.close()
}
