package protocol

import (
	"fmt"

	"blockmind/internal/task"
)

// ViolationDoneButNotCompleted is the one illegal state tolerated at commit
// boundaries: all steps done while the task awaits its verifier before
// transitioning to completed.
const ViolationDoneButNotCompleted = "done_but_not_completed"

// DetectIllegalStates returns the invariant violations present on a task.
// At every store commit the only acceptable entry is
// ViolationDoneButNotCompleted.
func DetectIllegalStates(t *task.Task) []string {
	var violations []string

	m := &t.Metadata

	if (m.BlockedReason != "") != (!m.BlockedAt.IsZero()) {
		violations = append(violations, fmt.Sprintf(
			"blocked_pair_mismatch: reason=%q blockedAt_set=%v", m.BlockedReason, !m.BlockedAt.IsZero()))
	}

	if t.Status == task.StatusPaused && m.GoalBinding != nil && m.GoalBinding.Hold == nil {
		violations = append(violations, "paused_goal_bound_without_hold")
	}

	if t.Status.IsTerminal() && m.GoalBinding != nil && m.GoalBinding.Hold != nil {
		violations = append(violations, "terminal_with_hold")
	}

	if t.AllStepsDone() && t.Status != task.StatusCompleted {
		violations = append(violations, ViolationDoneButNotCompleted)
	}

	return violations
}

// DriftReport is a thin summary of a goal-sourced task that finalized without
// a goal binding.
type DriftReport struct {
	TaskID     string          `json:"taskId"`
	Type       task.Type       `json:"type"`
	Source     task.Source     `json:"source"`
	OriginKind task.OriginKind `json:"originKind"`
	Reason     string          `json:"reason"`
}

// DetectGoalBindingDrift reports drift on a newly finalized task: a
// source=goal task with no goal binding means the goal resolver either never
// gates that task type or was disabled.
func DetectGoalBindingDrift(t *task.Task, resolverEnabled bool, gatedTypes map[task.Type]bool) *DriftReport {
	if t.Source != task.SourceGoal || t.Metadata.GoalBinding != nil {
		return nil
	}

	reason := "goal_resolver_disabled"
	if resolverEnabled && !gatedTypes[t.Type] {
		reason = fmt.Sprintf("type_not_gated:%s", t.Type)
	}

	var originKind task.OriginKind
	if t.Metadata.Origin != nil {
		originKind = t.Metadata.Origin.Kind
	}

	return &DriftReport{
		TaskID:     t.ID,
		Type:       t.Type,
		Source:     t.Source,
		OriginKind: originKind,
		Reason:     reason,
	}
}
