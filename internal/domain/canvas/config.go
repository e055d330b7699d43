package canvas

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bridge"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/router"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/sandbox"
)

var (
	ErrNotFound       = errors.New("canvas not found")
	ErrClosed         = errors.New("canvas closed")
	ErrInstanceExists = errors.New("instance already on canvas")
	ErrNoInstance     = errors.New("instance not on canvas")
	ErrStateTooLarge  = errors.New("state exceeds size limit")
)

// Config configures the components of every canvas
type Config struct {
	Sandbox          sandbox.Config
	Bridge           bridge.Config
	Router           router.Config
	OperationTimeout time.Duration
}

// DefaultConfig returns the component defaults
func DefaultConfig() Config {
	return Config{
		Sandbox:          sandbox.DefaultConfig(),
		Bridge:           bridge.DefaultConfig(),
		Router:           router.DefaultConfig(),
		OperationTimeout: capability.DefaultTimeout,
	}
}

// ConfigFrom maps process configuration onto canvas configuration
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Sandbox: sandbox.Config{
			LoadTimeout:  cfg.Sandbox.LoadTimeout,
			CallTimeout:  cfg.Sandbox.CallTimeout,
			Origin:       cfg.Sandbox.Origin,
			MaxCallStack: cfg.Sandbox.MaxCallStack,
		},
		Bridge: bridge.Config{
			AllowedOrigins: cfg.Bridge.AllowedOrigins,
			QueueSize:      cfg.Bridge.QueueSize,
			Rate:           cfg.Bridge.Rate,
			Burst:          cfg.Bridge.Burst,
		},
		Router: router.Config{
			HopCeiling: cfg.Router.HopCeiling,
			MaxAge:     cfg.Router.MaxAge,
			SeenCache:  cfg.Router.SeenCache,
			PortBuffer: cfg.Router.PortBuffer,
		},
		OperationTimeout: capability.DefaultTimeout,
	}
}
