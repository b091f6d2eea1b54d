// Package workerpool runs replication deliveries on a bounded set of
// goroutines.
//
// A Pool keeps CoreWorkers goroutines draining a queue of QueueCapacity
// tasks. When the queue is full it adds temporary workers up to MaxWorkers,
// which exit after KeepAlive without work. Past that point Submit either
// blocks for queue space or fails with ErrSaturated, depending on Overflow.
package workerpool
