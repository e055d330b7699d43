package types

// AddWidgetRequest places a manifest on a canvas. InstanceID restores a
// previously persisted instance when set.
type AddWidgetRequest struct {
	ManifestID string `json:"manifest_id" binding:"required"`
	InstanceID string `json:"instance_id,omitempty"`
}

// EdgeListRequest replaces a canvas's full edge set
type EdgeListRequest struct {
	Edges []Edge `json:"edges"`
}

// EmitRequest publishes a host-originated bus event
type EmitRequest struct {
	Event   string      `json:"event" binding:"required"`
	Payload interface{} `json:"payload"`
	Scope   string      `json:"scope"`
	// Target is required for the instance scope
	Target string `json:"target,omitempty"`
}

// CreateCanvasRequest opens a new canvas node
type CreateCanvasRequest struct {
	Name string `json:"name"`
}

// StreamMessage is one frame on the editor WebSocket stream
type StreamMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Scope     string      `json:"scope,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}
