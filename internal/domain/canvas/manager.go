package canvas

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/domain/catalog"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/providers/state"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/router"
)

// DefaultChannel names the broadcast channel shared by canvases of a process
const DefaultChannel = "widgethost"

// Manager owns the canvases of one process
type Manager struct {
	mu       sync.RWMutex
	canvases map[string]*Canvas

	config     Config
	hub        *router.Hub
	catalog    *catalog.Catalog
	persister  *state.Persister
	operations []capability.Operation
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
}

// NewManager creates a manager whose canvases share one hub
func NewManager(config Config, cat *catalog.Catalog, persister *state.Persister, ops []capability.Operation, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		canvases:   make(map[string]*Canvas),
		config:     config,
		hub:        router.NewHub(DefaultChannel).WithBuffer(config.Router.PortBuffer),
		catalog:    cat,
		persister:  persister,
		operations: ops,
		logger:     logger,
	}
	persister.OnFailure(m.persistenceFailed)
	return m
}

// WithMetrics adds metrics tracking to the manager and its canvases
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithTracer traces capability calls of canvases created afterwards
func (m *Manager) WithTracer(tracer *tracing.Tracer) *Manager {
	m.tracer = tracer
	return m
}

// Catalog returns the manifest catalog
func (m *Manager) Catalog() *catalog.Catalog {
	return m.catalog
}

// Create opens a new canvas on the shared hub
func (m *Manager) Create(name string) (*Canvas, error) {
	c, err := New(Options{
		Name:       name,
		Config:     m.config,
		Hub:        m.hub,
		Catalog:    m.catalog,
		Persister:  m.persister,
		Operations: m.operations,
		Logger:     m.logger,
		Metrics:    m.metrics,
		Tracer:     m.tracer,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.canvases[c.ID()] = c
	m.mu.Unlock()
	return c, nil
}

// Get returns a canvas by id
func (m *Manager) Get(canvasID string) (*Canvas, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, canvasID)
	}
	return c, nil
}

// List summarizes every canvas, oldest first
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.canvases))
	for _, c := range m.canvases {
		out = append(out, c.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete closes a canvas and forgets it
func (m *Manager) Delete(ctx context.Context, canvasID string) error {
	m.mu.Lock()
	c, ok := m.canvases[canvasID]
	delete(m.canvases, canvasID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, canvasID)
	}
	c.Close(ctx)
	return nil
}

// Close shuts down every canvas and flushes pending state
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Canvas, 0, len(m.canvases))
	for _, c := range m.canvases {
		all = append(all, c)
	}
	m.canvases = make(map[string]*Canvas)
	m.mu.Unlock()

	for _, c := range all {
		c.Close(ctx)
	}
	if err := m.persister.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m *Manager) persistenceFailed(f state.PersistenceFailure) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.canvases {
		if c.Has(f.InstanceID) {
			c.notice(NoticeLog, LogNotice{
				InstanceID: f.InstanceID,
				Level:      "error",
				Message:    "state could not be saved",
			})
			return
		}
	}
	m.logger.Debug("Persistence failure for unknown instance", logging.Instance(f.InstanceID))
}
