package types

import "fmt"

// Port identifies one port of one live instance
type Port struct {
	InstanceID string    `json:"instance_id"`
	Name       string    `json:"name"`
	Direction  Direction `json:"direction"`
}

// Edge connects an output port to an input port
type Edge struct {
	SourceInstanceID string `json:"sourceInstanceId" binding:"required"`
	SourcePort       string `json:"sourcePort" binding:"required"`
	TargetInstanceID string `json:"targetInstanceId" binding:"required"`
	TargetPort       string `json:"targetPort" binding:"required"`
}

// Source returns the edge's output port
func (e Edge) Source() Port {
	return Port{InstanceID: e.SourceInstanceID, Name: e.SourcePort, Direction: DirectionOutput}
}

// Target returns the edge's input port
func (e Edge) Target() Port {
	return Port{InstanceID: e.TargetInstanceID, Name: e.TargetPort, Direction: DirectionInput}
}

// Touches reports whether either end of the edge belongs to instanceID
func (e Edge) Touches(instanceID string) bool {
	return e.SourceInstanceID == instanceID || e.TargetInstanceID == instanceID
}

func (e Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", e.SourceInstanceID, e.SourcePort, e.TargetInstanceID, e.TargetPort)
}

// ScopeKind selects which subscriptions an emission reaches
type ScopeKind string

const (
	ScopeInstance ScopeKind = "instance"
	ScopeCanvas   ScopeKind = "canvas"
	ScopeGlobal   ScopeKind = "global"
)

// Scope of an Event Bus subscription or emission. InstanceID is only
// meaningful for ScopeInstance.
type Scope struct {
	Kind       ScopeKind `json:"kind"`
	InstanceID string    `json:"instance_id,omitempty"`
}

// ParseScopeKind maps a widget-supplied scope name to a kind, defaulting to canvas
func ParseScopeKind(s string) (ScopeKind, bool) {
	switch ScopeKind(s) {
	case "", ScopeCanvas:
		return ScopeCanvas, true
	case ScopeInstance:
		return ScopeInstance, true
	case ScopeGlobal:
		return ScopeGlobal, true
	default:
		return "", false
	}
}

// InstanceScope scopes delivery to one instance's own subscriptions
func InstanceScope(instanceID string) Scope {
	return Scope{Kind: ScopeInstance, InstanceID: instanceID}
}

// CanvasScope scopes delivery to the whole local canvas
func CanvasScope() Scope {
	return Scope{Kind: ScopeCanvas}
}

// GlobalScope scopes delivery to every canvas sharing the broadcast channel
func GlobalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}
