// Package metrics defines the Prometheus collectors for the write path,
// the replica side and the HTTP boundary. Each node owns a registry so that
// several nodes can run in one process.
package metrics
