// Package providers groups the host services that widgets reach through
// the capability gate.
//
// Each subpackage owns one concern and exposes it as capability
// operations or as a storage backend:
//   - network: outbound HTTP for network.fetch, host allow-listed,
//     rate limited and guarded by a circuit breaker
//   - compute: numeric helpers registered under the compute tag
//   - state: widget state stores (memory, file, remote HTTP) and the
//     debounced persister that writes snapshots to them
//
// Example Usage:
//
//	fetcher := network.NewFetcher(network.NewClient(network.DefaultOptions()), hosts)
//	ops := append([]capability.Operation{fetcher.Operation()}, compute.Operations()...)
package providers
