package orchestrator

import (
	"errors"
	"fmt"

	"github.com/dyluth/quill/pkg/message"
)

// ErrUnknownWorkflow is returned for correlation ids this orchestrator never started.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// ValidationError reports a story idea rejected before any message was sent.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid story idea: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PhaseError reports the phase a workflow failed in. Timeout is set when no
// terminal message arrived before the phase wait expired.
type PhaseError struct {
	Phase   message.Phase
	Timeout bool
	Err     error
}

func (e *PhaseError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("phase %s timed out: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// IsPhaseTimeout reports whether err is a PhaseError caused by a timeout.
func IsPhaseTimeout(err error) bool {
	var pe *PhaseError
	return errors.As(err, &pe) && pe.Timeout
}
