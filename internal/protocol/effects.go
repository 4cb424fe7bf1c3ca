// Package protocol owns the goal-binding synchronization protocol: pure
// reducers that turn task-state changes and goal-level events into ordered
// effects, the applier that commits those effects, and the hold state
// machine. Reducers never touch the store; the applier is the only place
// where effects become writes.
package protocol

import (
	"time"

	"blockmind/internal/task"
)

// EffectKind enumerates the synchronization effect variants.
type EffectKind string

const (
	EffectApplyHold        EffectKind = "apply_hold"
	EffectClearHold        EffectKind = "clear_hold"
	EffectUpdateTaskStatus EffectKind = "update_task_status"
	EffectUpdateGoalStatus EffectKind = "update_goal_status"
	EffectNoop             EffectKind = "noop"
)

// SyncEffect is one ordered synchronization effect produced by a reducer.
type SyncEffect struct {
	Kind   EffectKind `json:"kind"`
	TaskID string     `json:"taskId,omitempty"`
	Reason string     `json:"reason,omitempty"`

	// update_task_status
	Status task.Status `json:"status,omitempty"`

	// apply_hold
	HoldReason   task.HoldReason `json:"holdReason,omitempty"`
	NextReviewAt time.Time       `json:"nextReviewAt,omitempty"`

	// update_goal_status
	GoalID     string `json:"goalId,omitempty"`
	GoalStatus string `json:"goalStatus,omitempty"`
}

// GoalStatusUpdate summarizes a goal-level status change requested by a
// reducer.
type GoalStatusUpdate struct {
	GoalID string `json:"goalId"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ReducerResult is the pure output of a reducer invocation.
type ReducerResult struct {
	SyncEffects       []SyncEffect       `json:"syncEffects"`
	GoalStatusUpdates []GoalStatusUpdate `json:"goalStatusUpdates"`
}

// PartitionSelfHoldEffects splits effects into hold effects targeting the
// given task (applied to the in-memory object before the commit, so status
// and hold land atomically) and everything else (applied after the commit).
func PartitionSelfHoldEffects(taskID string, effects []SyncEffect) (self, remaining []SyncEffect) {
	for _, e := range effects {
		if e.TaskID == taskID && (e.Kind == EffectApplyHold || e.Kind == EffectClearHold) {
			self = append(self, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	return self, remaining
}

// ApplyHoldToTask mutates the in-memory task's hold state per the effect.
// Only apply_hold and clear_hold are meaningful; other kinds are ignored.
func ApplyHoldToTask(t *task.Task, e SyncEffect, now time.Time) {
	if t.Metadata.GoalBinding == nil {
		return
	}
	switch e.Kind {
	case EffectApplyHold:
		t.Metadata.GoalBinding.Hold = &task.Hold{
			Reason:       e.HoldReason,
			HeldAt:       now,
			NextReviewAt: e.NextReviewAt,
		}
	case EffectClearHold:
		t.Metadata.GoalBinding.Hold = nil
	}
}
