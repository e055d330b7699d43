// Package http provides the editor-facing REST API of the widget host.
//
// Endpoints:
//   - Health: /health
//   - Manifests: /manifests, /manifests/:id, /manifests/reload
//   - Canvases: /canvases, /canvases/:id
//   - Instances: /canvases/:id/instances, /canvases/:id/instances/:iid,
//     /canvases/:id/instances/:iid/activate|deactivate
//   - Edges: /canvases/:id/edges (GET, PUT replaces, POST adds, DELETE removes)
//   - Events: /canvases/:id/events
//
// Domain errors map onto status codes in one place (statusFor), so every
// handler answers a missing canvas, a duplicate edge or a failed load the
// same way.
//
// Example Usage:
//
//	handlers := http.NewHandlers(manager, loader, http.NewHandlerMetrics(metrics), logger)
//	router.GET("/canvases", handlers.ListCanvases)
package http
