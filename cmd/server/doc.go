// Package main is the entry point for the widget host server.
//
// The server runs untrusted widget code in isolated contexts, wires their
// ports into per-canvas pipelines and exposes the editor API.
//
// Architecture:
//
//	Editor (HTTP + WebSocket) → Canvas Manager → Canvas
//	                                               ├ Sandbox Host (one JS context per widget)
//	                                               ├ Message Bridge → Capability Gate
//	                                               ├ Event Bus ↔ Cross-Canvas Router
//	                                               └ Pipeline Runtime
//	                            → State Store (memory | file | http)
//
// Configuration:
//   - Environment variables (12-factor), see internal/infrastructure/config
//   - CLI flags override PORT and WIDGETS_DIR
//
// Usage:
//
//	./server -port 8000 -widgets ./widgets
//	LOG_DEV=true STATE_BACKEND=file ./server
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, pending widget state is flushed
package main
