package catalog

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
)

var (
	ErrNotFound        = errors.New("manifest not found")
	ErrAlreadyExists   = errors.New("manifest already registered")
	ErrInvalidManifest = errors.New("invalid manifest")
)

// Catalog stores registered widgets by manifest id
type Catalog struct {
	mu      sync.RWMutex
	widgets map[string]*types.Widget
	logger  *zap.Logger
}

// New creates an empty catalog
func New(logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		widgets: make(map[string]*types.Widget),
		logger:  logger.Named("catalog"),
	}
}

// Register validates and adds a widget
func (c *Catalog) Register(w *types.Widget) error {
	if err := Validate(w); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.widgets[w.Manifest.ID]; exists {
		return ErrAlreadyExists
	}
	stored := *w
	c.widgets[w.Manifest.ID] = &stored

	c.logger.Info("Manifest registered",
		zap.String("manifest_id", w.Manifest.ID),
		zap.String("version", w.Manifest.Version),
		zap.Int("inputs", len(w.Manifest.InputPorts)),
		zap.Int("outputs", len(w.Manifest.OutputPorts)))
	return nil
}

// Get returns the widget registered under id
func (c *Catalog) Get(id string) (*types.Widget, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.widgets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return w, nil
}

// List returns every manifest ordered by id
func (c *Catalog) List() []types.Manifest {
	c.mu.RLock()
	out := make([]types.Manifest, 0, len(c.widgets))
	for _, w := range c.widgets {
		out = append(out, w.Manifest)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove drops a manifest. Running instances keep their copy.
func (c *Catalog) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.widgets[id]; !ok {
		return false
	}
	delete(c.widgets, id)
	return true
}

// Len returns the number of registered manifests
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.widgets)
}
