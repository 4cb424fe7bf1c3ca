package protocol

import (
	"errors"
	"fmt"
	"time"

	"blockmind/internal/task"
)

// ErrInvalidTransition is returned when a management action targets a task in
// a terminal status.
var ErrInvalidTransition = errors.New("invalid_transition")

// ManagementOp enumerates user-facing management actions.
type ManagementOp string

const (
	OpPause      ManagementOp = "pause"
	OpResume     ManagementOp = "resume"
	OpCancel     ManagementOp = "cancel"
	OpPrioritize ManagementOp = "prioritize"
)

// RunManagementAction preconditions a management action on a goal-bound task:
// the hold change is computed and applied to the in-memory task before the
// handler runs, and rolled back if the handler rejects the transition. The
// handler performs the actual status transition (and its commit).
//
// Pre-existing holds are deep-cloned for the rollback so the handler cannot
// corrupt them through aliasing.
func RunManagementAction(t *task.Task, op ManagementOp, now time.Time, handler func() error) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s on terminal status %s", ErrInvalidTransition, op, t.Status)
	}

	binding := t.Metadata.GoalBinding
	if binding == nil || op == OpPrioritize {
		return handler()
	}

	prior := binding.Hold.Clone()

	switch op {
	case OpPause:
		binding.Hold = &task.Hold{
			Reason:       task.HoldManualPause,
			HeldAt:       now,
			NextReviewAt: now.Add(defaultHoldReview),
		}
	case OpResume, OpCancel:
		// Explicit user action: clears any hold, including manual_pause.
		binding.Hold = nil
	default:
		return fmt.Errorf("unknown management op %q", op)
	}

	if err := handler(); err != nil {
		binding.Hold = prior
		return err
	}
	return nil
}
