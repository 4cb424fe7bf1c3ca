package protocol

import (
	"fmt"
	"time"

	"blockmind/internal/task"
)

// GoalActionKind enumerates goal-level events fed to the reducer.
type GoalActionKind string

const (
	GoalPaused    GoalActionKind = "goal_paused"
	GoalResumed   GoalActionKind = "goal_resumed"
	GoalCompleted GoalActionKind = "goal_completed"
	GoalCanceled  GoalActionKind = "goal_canceled"
)

// GoalAction is a goal-level event.
type GoalAction struct {
	Kind   GoalActionKind
	GoalID string
	Reason string
}

// defaultHoldReview is how far out a hold's next review is scheduled when the
// event does not say otherwise.
const defaultHoldReview = 5 * time.Minute

// OnTaskStatusChanged reduces a task status transition into sync effects.
// Pure: reads the task, mutates nothing.
func OnTaskStatusChanged(t *task.Task, prev, next task.Status, now time.Time) ReducerResult {
	var res ReducerResult

	binding := t.Metadata.GoalBinding
	if binding == nil {
		res.SyncEffects = append(res.SyncEffects, SyncEffect{
			Kind: EffectNoop, TaskID: t.ID, Reason: "no goal binding",
		})
		return res
	}

	switch next {
	case task.StatusPaused:
		if binding.Hold == nil {
			res.SyncEffects = append(res.SyncEffects, SyncEffect{
				Kind:         EffectApplyHold,
				TaskID:       t.ID,
				HoldReason:   task.HoldPreempted,
				NextReviewAt: now.Add(defaultHoldReview),
				Reason:       fmt.Sprintf("paused from %s", prev),
			})
		}
		res.addGoalUpdate(binding, "paused", fmt.Sprintf("task %s paused", t.ID))

	case task.StatusPending, task.StatusActive, task.StatusInProgress:
		if prev == task.StatusPaused && binding.Hold != nil {
			// A direct status change out of paused carries the caller's
			// intent to lift the suspension, whatever the hold reason.
			res.SyncEffects = append(res.SyncEffects, SyncEffect{
				Kind: EffectClearHold, TaskID: t.ID,
				Reason: fmt.Sprintf("resumed to %s", next),
			})
		}
		if prev == task.StatusPaused {
			res.addGoalUpdate(binding, "active", fmt.Sprintf("task %s resumed", t.ID))
		}

	case task.StatusCompleted:
		if binding.Hold != nil {
			res.SyncEffects = append(res.SyncEffects, SyncEffect{
				Kind: EffectClearHold, TaskID: t.ID, Reason: "task completed",
			})
		}
		res.addGoalUpdate(binding, "completed", fmt.Sprintf("task %s completed", t.ID))

	case task.StatusFailed, task.StatusUnplannable:
		res.addGoalUpdate(binding, "failed", fmt.Sprintf("task %s %s", t.ID, next))

	default:
		res.SyncEffects = append(res.SyncEffects, SyncEffect{
			Kind: EffectNoop, TaskID: t.ID,
			Reason: fmt.Sprintf("no protocol effect for %s -> %s", prev, next),
		})
	}

	return res
}

// OnTaskProgressUpdated reduces a progress update. Progress alone never moves
// the hold state machine; it only surfaces to the goal.
func OnTaskProgressUpdated(t *task.Task, progress float64) ReducerResult {
	var res ReducerResult

	binding := t.Metadata.GoalBinding
	if binding == nil || binding.GoalID == "" {
		res.SyncEffects = append(res.SyncEffects, SyncEffect{
			Kind: EffectNoop, TaskID: t.ID, Reason: "no goal to notify",
		})
		return res
	}

	res.addGoalUpdate(binding, "progress", fmt.Sprintf("task %s progress %.2f", t.ID, progress))
	return res
}

// OnGoalAction reduces a goal-level event across all bound tasks. The
// manual_pause hard wall lives here: goal_resumed never clears a hold a user
// placed by hand.
func OnGoalAction(action GoalAction, tasks []*task.Task, now time.Time) ReducerResult {
	var res ReducerResult

	for _, t := range tasks {
		binding := t.Metadata.GoalBinding
		if binding == nil {
			continue
		}
		if t.Status.IsTerminal() {
			res.SyncEffects = append(res.SyncEffects, SyncEffect{
				Kind: EffectNoop, TaskID: t.ID,
				Reason: fmt.Sprintf("terminal status %s is immutable", t.Status),
			})
			continue
		}

		switch action.Kind {
		case GoalPaused:
			res.SyncEffects = append(res.SyncEffects,
				SyncEffect{
					Kind:         EffectApplyHold,
					TaskID:       t.ID,
					HoldReason:   task.HoldPreempted,
					NextReviewAt: now.Add(defaultHoldReview),
					Reason:       "goal paused",
				},
				SyncEffect{
					Kind: EffectUpdateTaskStatus, TaskID: t.ID,
					Status: task.StatusPaused, Reason: "goal paused",
				},
			)

		case GoalResumed:
			if binding.Hold != nil && binding.Hold.Reason == task.HoldManualPause {
				res.SyncEffects = append(res.SyncEffects, SyncEffect{
					Kind: EffectNoop, TaskID: t.ID,
					Reason: "hold reason manual_pause is a hard wall; only explicit user resume clears it",
				})
				continue
			}
			res.SyncEffects = append(res.SyncEffects,
				SyncEffect{Kind: EffectClearHold, TaskID: t.ID, Reason: "goal resumed"},
				SyncEffect{
					Kind: EffectUpdateTaskStatus, TaskID: t.ID,
					Status: task.StatusPending, Reason: "goal resumed",
				},
			)

		case GoalCompleted:
			res.SyncEffects = append(res.SyncEffects, SyncEffect{
				Kind: EffectUpdateTaskStatus, TaskID: t.ID,
				Status: task.StatusCompleted, Reason: "goal completed",
			})

		case GoalCanceled:
			res.SyncEffects = append(res.SyncEffects, SyncEffect{
				Kind: EffectUpdateTaskStatus, TaskID: t.ID,
				Status: task.StatusFailed, Reason: "goal_canceled",
			})
		}
	}

	return res
}

func (r *ReducerResult) addGoalUpdate(binding *task.GoalBinding, status, reason string) {
	if binding.GoalID == "" {
		return
	}
	r.SyncEffects = append(r.SyncEffects, SyncEffect{
		Kind:       EffectUpdateGoalStatus,
		GoalID:     binding.GoalID,
		GoalStatus: status,
		Reason:     reason,
	})
	r.GoalStatusUpdates = append(r.GoalStatusUpdates, GoalStatusUpdate{
		GoalID: binding.GoalID, Status: status, Reason: reason,
	})
}
