// Package state persists each widget instance's state blob.
//
// A Store is keyed by instance id and treats blobs as opaque JSON bytes.
// Backends:
//   - MemoryStore: process-local map, the default
//   - FileStore: one zstd-compressed file per instance, written by atomic rename
//   - HTTPStore: a remote key-value endpoint reached through network.Client
//
// Widgets never wait on storage. The Persister debounces writes per
// instance and retries them off the host loop; a write that cannot be
// completed is reported as a PersistenceFailure.
//
// An instance is tracked from mount until unmount. Release flushes its
// pending blob and Purge drops it and deletes the saved state; both wait
// for a write already in flight, and neither lets a later write land.
package state
