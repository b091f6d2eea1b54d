// Package clock provides the timestamp source used to version writes.
// The coordinator stamps every accepted write exactly once; replicas compare
// those stamps under the last-write-wins merge rule, so the coordinator's
// clock must never hand out the same or a smaller instant twice.
package clock
