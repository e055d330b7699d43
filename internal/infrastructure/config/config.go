package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Sandbox   SandboxConfig
	Bridge    BridgeConfig
	Router    RouterConfig
	State     StateConfig
	Widgets   WidgetsConfig
	Network   NetworkConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// AllowedOrigins is the editor's CORS and WebSocket origin allow-list
	AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	// StreamBuffer is the per-connection event queue of the editor stream
	StreamBuffer int `envconfig:"STREAM_BUFFER" default:"256"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SandboxConfig holds isolated context configuration.
type SandboxConfig struct {
	LoadTimeout  time.Duration `envconfig:"SANDBOX_LOAD_TIMEOUT" default:"5s"`
	CallTimeout  time.Duration `envconfig:"SANDBOX_CALL_TIMEOUT" default:"1s"`
	Origin       string        `envconfig:"SANDBOX_ORIGIN" default:"null"`
	MaxCallStack int           `envconfig:"SANDBOX_MAX_STACK" default:"1024"`
}

// BridgeConfig holds message bridge configuration.
type BridgeConfig struct {
	AllowedOrigins []string `envconfig:"BRIDGE_ALLOWED_ORIGINS" default:"null"`
	QueueSize      int      `envconfig:"BRIDGE_QUEUE_SIZE" default:"4096"`
	Rate           float64  `envconfig:"BRIDGE_RATE" default:"200"`
	Burst          int      `envconfig:"BRIDGE_BURST" default:"400"`
}

// RouterConfig holds cross-canvas router configuration.
type RouterConfig struct {
	HopCeiling int           `envconfig:"ROUTER_HOP_CEILING" default:"10"`
	MaxAge     time.Duration `envconfig:"ROUTER_MAX_AGE" default:"30s"`
	SeenCache  int           `envconfig:"ROUTER_SEEN_CACHE" default:"4096"`
	PortBuffer int           `envconfig:"ROUTER_PORT_BUFFER" default:"256"`
}

// StateConfig holds persistence configuration.
type StateConfig struct {
	Backend  string        `envconfig:"STATE_BACKEND" default:"memory"`
	Dir      string        `envconfig:"STATE_DIR" default:"/tmp/widgethost-state"`
	URL      string        `envconfig:"STATE_URL" default:""`
	Debounce time.Duration `envconfig:"STATE_DEBOUNCE" default:"500ms"`
}

// WidgetsConfig holds manifest discovery configuration.
type WidgetsConfig struct {
	Dir string `envconfig:"WIDGETS_DIR" default:"./widgets"`
}

// NetworkConfig holds settings for the network.fetch capability.
type NetworkConfig struct {
	AllowedHosts []string      `envconfig:"NETWORK_ALLOWED_HOSTS" default:"*"`
	RateLimit    float64       `envconfig:"NETWORK_RATE" default:"10"`
	Timeout      time.Duration `envconfig:"NETWORK_TIMEOUT" default:"30s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the host cannot run with.
func (c *Config) Validate() error {
	switch c.State.Backend {
	case "memory", "file":
	case "http":
		if c.State.URL == "" {
			return fmt.Errorf("STATE_URL is required for the http state backend")
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.State.Backend)
	}
	if c.Router.HopCeiling <= 0 {
		return fmt.Errorf("ROUTER_HOP_CEILING must be positive")
	}
	if len(c.Bridge.AllowedOrigins) == 0 {
		return fmt.Errorf("BRIDGE_ALLOWED_ORIGINS must not be empty")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
			StreamBuffer:    256,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			LoadTimeout:  5 * time.Second,
			CallTimeout:  time.Second,
			Origin:       "null",
			MaxCallStack: 1024,
		},
		Bridge: BridgeConfig{
			AllowedOrigins: []string{"null"},
			QueueSize:      4096,
			Rate:           200,
			Burst:          400,
		},
		Router: RouterConfig{
			HopCeiling: 10,
			MaxAge:     30 * time.Second,
			SeenCache:  4096,
			PortBuffer: 256,
		},
		State: StateConfig{
			Backend:  "memory",
			Dir:      "/tmp/widgethost-state",
			Debounce: 500 * time.Millisecond,
		},
		Widgets: WidgetsConfig{
			Dir: "./widgets",
		},
		Network: NetworkConfig{
			AllowedHosts: []string{"*"},
			RateLimit:    10,
			Timeout:      30 * time.Second,
		},
	}
}
