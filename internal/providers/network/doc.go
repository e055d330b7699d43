// Package network provides the outbound HTTP client shared by host
// operations and remote state storage, plus the network.fetch capability.
//
// The client stacks three layers:
//   - go-retryablehttp as the transport, retrying connection errors and 5xx
//   - an x/time/rate limiter shared by all callers of one client
//   - a resilience.Breaker that fails fast while a remote is unhealthy
//
// Example Usage:
//
//	client := network.NewClient(network.DefaultOptions())
//	fetcher := network.NewFetcher(client, []string{"*.example.com"})
//	gate.Register(fetcher.Operation())
package network
