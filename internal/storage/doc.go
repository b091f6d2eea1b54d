// Package storage provides the per-node key-value table. Each key holds at
// most one timestamped entry. Replicated writes are folded in with a
// last-write-wins merge (versioned) or a last-applied-wins overwrite
// (non-versioned). Every read-modify-write is atomic per key, and no lock is
// ever taken over the whole table, so unrelated keys never contend.
package storage
