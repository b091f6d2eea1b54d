package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidQuorum marks a rejected write-quorum value.
var ErrInvalidQuorum = errors.New("invalid write quorum")

// ConfigurationError reports a rejected configuration value.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func invalid(field, value, reason string) error {
	return &ConfigurationError{Field: field, Value: value, Reason: reason}
}

// ParseWriteQuorum parses a quorum threshold. Anything that is not a plain
// base-10 integer is rejected.
func ParseWriteQuorum(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ConfigurationError{
			Field:  "writeQuorum",
			Value:  s,
			Reason: "must be an integer",
			Err:    ErrInvalidQuorum,
		}
	}
	return n, nil
}
