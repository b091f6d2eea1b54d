package coordinator

import (
	"errors"
	"fmt"

	"replicator/internal/quorum"
)

var (
	// ErrQuorumFailure matches every *QuorumError.
	ErrQuorumFailure = errors.New("quorum failure")
	// ErrEmptyKey is returned for writes without a key.
	ErrEmptyKey = errors.New("key cannot be empty")
)

// QuorumError reports a write whose tracker decided failure. The write is
// still present in the leader's store.
type QuorumError struct {
	Key     string
	Outcome quorum.Outcome
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("quorum failure for key %q: %s (acks %d/%d, failures %d)",
		e.Key, e.Outcome.Reason, e.Outcome.Acks, e.Outcome.Required, e.Outcome.Failures)
}

func (e *QuorumError) Unwrap() error { return ErrQuorumFailure }
