// Package types provides shared data structures for the widget host.
//
// Widgets are represented as data, never as polymorphic objects: a
// WidgetInstance is a manifest reference plus an opaque state blob, and
// every behavioral difference between widgets lives in the render payload
// executed inside the instance's own sandbox.
//
// Core Types:
//   - Manifest: Immutable widget descriptor shared by many instances
//   - Instance: Live placement of a manifest on a canvas
//   - Port, Edge: Pipeline attachment points and connections
//   - Scope: Event Bus delivery scope (instance, canvas, global)
//
// Request Types:
//   - AddWidgetRequest, EdgeRequest, EmitRequest: HTTP API payloads
//   - StreamMessage: WebSocket editor stream frames
package types
