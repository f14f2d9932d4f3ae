package dispatcher

import (
	"errors"

	"github.com/whizbang-io/whizbang/pkg/types"
)

// ReasonError tags a handler error with the failure reason the coordinator
// should record for the message
type ReasonError struct {
	Reason types.FailureReason
	Err    error
}

// Error returns the wrapped error text
func (e *ReasonError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the wrapped error to errors.Is/As
func (e *ReasonError) Unwrap() error {
	return e.Err
}

// WithReason tags err with a failure reason. Untagged handler errors are
// classified as unknown.
func WithReason(reason types.FailureReason, err error) error {
	return &ReasonError{Reason: reason, Err: err}
}

// classify extracts the failure reason from a handler error
func classify(err error) types.FailureReason {
	var tagged *ReasonError
	if errors.As(err, &tagged) {
		return tagged.Reason
	}
	return types.FailureUnknown
}
