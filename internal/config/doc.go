// Package config loads node configuration from YAML, environment variables
// and flags, and holds the run-time mutable replication settings (write
// quorum and merge policy) shared by the coordinator and the replica side.
package config
