package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/providers/network"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/utils"
)

// ErrInvalidKey is returned for instance ids that cannot be used as keys
var ErrInvalidKey = errors.New("invalid state key")

// Store reads and writes per-instance state blobs
type Store interface {
	// GetState returns the blob for instanceID and whether one exists
	GetState(ctx context.Context, instanceID string) ([]byte, bool, error)
	SetState(ctx context.Context, instanceID string, blob []byte) error
	DeleteState(ctx context.Context, instanceID string) error
}

// New builds the store selected by cfg.Backend
func New(cfg config.StateConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "http":
		opts := network.DefaultOptions()
		opts.Name = "state-store"
		opts.Timeout = 10 * time.Second
		return NewHTTPStore(cfg.URL, network.NewClient(opts))
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

func validateKey(instanceID string) error {
	if err := utils.ValidateID(instanceID, "instance id", true); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
