package renewal

import (
	"errors"
	"fmt"
)

var (
	// ErrRenewalFailed marks every error produced by a failed renewal episode.
	ErrRenewalFailed = errors.New("session renewal failed")

	// ErrQueueDrained is returned when a ReplayQueue is used after its drain.
	ErrQueueDrained = errors.New("replay queue already drained")
)

// Error is delivered to every caller of a failed episode. It unwraps to both
// ErrRenewalFailed and the renewal call's own failure.
type Error struct {
	Episode uint64
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v (episode %d)", ErrRenewalFailed, e.Episode)
	}
	return fmt.Sprintf("%v (episode %d): %v", ErrRenewalFailed, e.Episode, e.Cause)
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrRenewalFailed}
	}
	return []error{ErrRenewalFailed, e.Cause}
}
