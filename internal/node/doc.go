// Package node assembles a replicator process from its configuration and
// runs its gRPC and HTTP servers.
package node
