// Package coordinator implements the leader's write path.
//
// A write is stamped, applied to the local store unconditionally, then fanned
// out to every peer through the worker pool. Each delivery outcome feeds a
// quorum.Tracker created for that write, and Write returns once the tracker
// decides. A failed write is not rolled back locally.
//
// Deliveries that are still running after the decision are not cancelled.
// They are counted in InFlight and can be waited for with Drain.
package coordinator
