// Package id provides centralized ID generation for the widget host.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: instance and envelope ids order by creation time
//   - Prefixed types: Type-specific prefixes for debugging (wgt_*, cnv_*, env_*)
//   - Type safety: Separate types prevent passing a canvas id where an instance id is expected
//
// Design Principles:
//   - ULIDs only: Single ID format across the host
//   - Debuggable: Prefixes make logs readable
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// InstanceID identifies a live widget placement
type InstanceID string

// CanvasID identifies one loaded canvas (one broadcast node)
type CanvasID string

// EnvelopeID identifies one cross-canvas broadcast
type EnvelopeID string

// SubscriptionID identifies an Event Bus subscription
type SubscriptionID string

// RequestID identifies a capability request
type RequestID string

// ============================================================================
// ID Prefixes (for debugging and type identification)
// ============================================================================

const (
	InstancePrefix     = "wgt"
	CanvasPrefix       = "cnv"
	EnvelopePrefix     = "env"
	SubscriptionPrefix = "sub"
	RequestPrefix      = "req"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a ULID generator backed by crypto/rand with
// monotonic ordering inside the same millisecond
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewInstanceID generates a new widget instance ID
func NewInstanceID() InstanceID {
	return InstanceID(Default().GenerateWithPrefix(InstancePrefix))
}

// NewCanvasID generates a new canvas ID
func NewCanvasID() CanvasID {
	return CanvasID(Default().GenerateWithPrefix(CanvasPrefix))
}

// NewEnvelopeID generates a new broadcast envelope ID
func NewEnvelopeID() EnvelopeID {
	return EnvelopeID(Default().GenerateWithPrefix(EnvelopePrefix))
}

// NewSubscriptionID generates a new subscription ID
func NewSubscriptionID() SubscriptionID {
	return SubscriptionID(Default().GenerateWithPrefix(SubscriptionPrefix))
}

// NewRequestID generates a new capability request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id InstanceID) String() string     { return string(id) }
func (id CanvasID) String() string       { return string(id) }
func (id EnvelopeID) String() string     { return string(id) }
func (id SubscriptionID) String() string { return string(id) }
func (id RequestID) String() string      { return string(id) }
