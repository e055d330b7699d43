// Package canvas composes the runtime components into a working canvas.
//
// A Canvas owns one message bridge, event bus, pipeline runtime, sandbox
// host, capability gate and router node. Widget traffic flows:
//
//	widget context -> bridge (authenticate, classify) -> Canvas (Sink)
//	  output  -> pipeline -> sandbox host -> target widget input
//	  state   -> merge -> state-changed back to the widget -> persister
//	  request -> capability gate -> response back to the widget
//	  emit    -> bus -> subscribers (global scope also crosses canvases)
//
// A Manager holds every canvas of the process together with the shared
// router hub, manifest catalog and state persister.
//
// Host notices are published on the canvas bus under the "host:" prefix.
// Widgets can neither emit nor receive them; they exist for editor
// observers such as the WebSocket stream.
package canvas
