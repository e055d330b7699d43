// Package config provides 12-factor configuration management for the widget host.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting of the editor API
//   - Sandbox: Widget context load and callback timeouts
//   - Bridge: Origin allow-list and per-instance message rate
//   - Router: Cross-canvas loop guard
//   - State: Persistence backend and debounce interval
//   - Widgets: Manifest discovery directory
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
