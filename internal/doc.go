// Package internal contains the implementation packages for servedir.
//
// # Package Organization
//
//   - source: Immutable content snapshots with a BLAKE3 digest
//   - mimetype: Content type detection from names and file content
//   - queue: FIFO serialization queues with nested acquisition
//   - fstree: The lazily loaded directory mirror, plugin folding and listings
//   - plugins: Built-in highlighter and Markdown plugins and their registry
//   - watcher: Debounced filesystem notifications feeding tree refreshes
//   - server: HTTP serving, health, metrics and live reload
//   - config: Configuration loading and validation
//   - logging: Structured logging on log/slog
//   - metrics: Prometheus instrumentation
//   - errors: Structured error types
//   - version: Build information
//
// # Inter-Package Communication
//
//   - The server traverses the tree for each request and resolves the node
//     through the enabled plugins
//   - The watcher schedules refreshes on the tree and then tells the server
//     to notify live reload clients
//   - The plugin registry turns configuration into the ordered plugin list
//     the tree consults
//
// # Concurrency
//
// All reads and refreshes of a tree go through its I/O queue and all whole
// directory loads through its directory queue. Code already running on a
// queue may use it again without deadlocking; the queue recognizes itself
// through the context.
package internal
