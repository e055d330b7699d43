// Package middleware provides the HTTP middleware of the editor API.
//
// Middleware stack:
//   - CORS: exact-match origin allow-list ("*" admits all)
//   - RateLimit: per-IP token bucket, limiters kept in a bounded LRU
//   - GlobalRateLimit: one token bucket shared by every client
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
