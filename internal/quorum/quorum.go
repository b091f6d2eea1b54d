package quorum

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Decision is the latched result of a Tracker.
type Decision int32

const (
	// Pending means no decision has been made yet.
	Pending Decision = iota
	// Success means the required number of acknowledgements arrived first.
	Success
	// Failure means a delivery failed, or all deliveries completed short of
	// the threshold.
	Failure
)

// String returns the string representation of Decision.
func (d Decision) String() string {
	switch d {
	case Pending:
		return "PENDING"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Reason explains why a Tracker decided the way it did.
type Reason int32

const (
	ReasonNone Reason = iota
	// ReasonThresholdMet: acks reached the required count.
	ReasonThresholdMet
	// ReasonTrivial: the required count was zero or negative.
	ReasonTrivial
	// ReasonDeliveryFailed: a peer reported a failed delivery.
	ReasonDeliveryFailed
	// ReasonExhausted: every outcome arrived and acks stayed short.
	ReasonExhausted
)

// String returns the string representation of Reason.
func (r Reason) String() string {
	switch r {
	case ReasonThresholdMet:
		return "threshold met"
	case ReasonTrivial:
		return "no acknowledgements required"
	case ReasonDeliveryFailed:
		return "delivery failed"
	case ReasonExhausted:
		return "all deliveries completed below threshold"
	default:
		return "undecided"
	}
}

// Outcome is a point-in-time view of a Tracker.
type Outcome struct {
	Acks     int
	Failures int
	Reported int
	Required int
	Expected int
	Failed   bool
	Decided  bool
	Decision Decision
	Reason   Reason
}

// String formats the outcome for logs and error messages.
func (o Outcome) String() string {
	return fmt.Sprintf("%s (%s): acks=%d failures=%d required=%d peers=%d",
		o.Decision, o.Reason, o.Acks, o.Failures, o.Required, o.Expected)
}

// Tracker aggregates the outcomes of one write's deliveries. It is safe for
// concurrent use by all delivery goroutines; Record never blocks.
type Tracker struct {
	required int
	expected int

	acks     atomic.Int64
	failures atomic.Int64
	reported atomic.Int64
	failed   atomic.Bool

	once     sync.Once
	decision atomic.Int32
	reason   atomic.Int32
	done     chan struct{}
}

// NewTracker creates a tracker that needs required acknowledgements out of
// expected deliveries. required <= 0 decides Success immediately; expected
// == 0 with a positive requirement decides Failure immediately, because no
// outcome will ever arrive.
func NewTracker(required, expected int) *Tracker {
	t := &Tracker{
		required: required,
		expected: expected,
		done:     make(chan struct{}),
	}

	switch {
	case required <= 0:
		t.decide(Success, ReasonTrivial)
	case expected <= 0:
		t.decide(Failure, ReasonExhausted)
	}
	return t
}

// Record feeds one delivery outcome. It returns true when the outcome arrived
// after the decision was already latched and therefore did not influence it.
func (t *Tracker) Record(ok bool) (late bool) {
	late = t.Decided()

	if !ok {
		t.failures.Add(1)
		t.failed.Store(true)
		t.reported.Add(1)
		t.decide(Failure, ReasonDeliveryFailed)
		return late
	}

	n := t.acks.Add(1)
	reported := t.reported.Add(1)
	if n >= int64(t.required) {
		t.decide(Success, ReasonThresholdMet)
		return late
	}
	if reported >= int64(t.expected) {
		// Every ack is counted before its report, so this load sees them all.
		if t.acks.Load() >= int64(t.required) {
			t.decide(Success, ReasonThresholdMet)
		} else {
			t.decide(Failure, ReasonExhausted)
		}
	}
	return late
}

func (t *Tracker) decide(d Decision, r Reason) {
	t.once.Do(func() {
		t.reason.Store(int32(r))
		t.decision.Store(int32(d))
		close(t.done)
	})
}

// Done is closed once the decision is latched.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Decided reports whether the decision is latched.
func (t *Tracker) Decided() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Decision returns the latched decision, or Pending.
func (t *Tracker) Decision() Decision {
	if !t.Decided() {
		return Pending
	}
	return Decision(t.decision.Load())
}

// Wait blocks until the decision is latched or ctx is done.
func (t *Tracker) Wait(ctx context.Context) (Decision, error) {
	select {
	case <-t.done:
		return Decision(t.decision.Load()), nil
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

// Outcome returns the current counters and decision.
func (t *Tracker) Outcome() Outcome {
	d := t.Decision()
	r := ReasonNone
	if d != Pending {
		r = Reason(t.reason.Load())
	}
	return Outcome{
		Acks:     int(t.acks.Load()),
		Failures: int(t.failures.Load()),
		Reported: int(t.reported.Load()),
		Required: t.required,
		Expected: t.expected,
		Failed:   t.failed.Load(),
		Decided:  d != Pending,
		Decision: d,
		Reason:   r,
	}
}
