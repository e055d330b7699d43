package sandbox

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("context not found")
	ErrAlreadyExists = errors.New("context already exists")
	ErrInvalidState  = errors.New("invalid lifecycle transition")
	ErrLoadTimeout   = errors.New("readiness not observed before timeout")
	ErrCallTimeout   = errors.New("widget callback exceeded its deadline")
	ErrNotReady      = errors.New("widget deferred readiness and never signalled it")
)

// Config defines context limits
type Config struct {
	LoadTimeout  time.Duration // Payload evaluation and readiness
	CallTimeout  time.Duration // Any single callback into widget code
	Origin       string        // Stamped on every outgoing message
	MaxCallStack int
}

// DefaultConfig returns the limits used when none are configured
func DefaultConfig() Config {
	return Config{
		LoadTimeout:  5 * time.Second,
		CallTimeout:  time.Second,
		Origin:       "null",
		MaxCallStack: 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.Origin == "" {
		c.Origin = d.Origin
	}
	if c.MaxCallStack <= 0 {
		c.MaxCallStack = d.MaxCallStack
	}
	return c
}

// LoadError reports a context that never became ready
type LoadError struct {
	InstanceID string
	Reason     string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("widget %s failed to load (%s): %v", e.InstanceID, e.Reason, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
