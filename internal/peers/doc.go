// Package peers tracks the liveness of the fixed replica set.
//
// A Prober probes every peer on an interval and moves it between Alive,
// Suspect and Dead based on how long ago it last answered. The result is
// reported on /readyz and as metrics only; it never changes which peers a
// write is sent to or how its quorum is decided.
package peers
