package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmind/internal/task"
)

func boundTask(id string, status task.Status) *task.Task {
	return &task.Task{
		ID:     id,
		Status: status,
		Source: task.SourceGoal,
		Metadata: task.Metadata{
			GoalBinding: &task.GoalBinding{
				GoalInstanceID: "gi-1",
				GoalType:       "reach_iron_tools",
				GoalID:         "g-1",
			},
		},
	}
}

func effectKinds(effects []SyncEffect) []EffectKind {
	kinds := make([]EffectKind, len(effects))
	for i, e := range effects {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestOnTaskStatusChanged_UnboundIsNoop(t *testing.T) {
	tk := &task.Task{ID: "t1", Status: task.StatusActive}
	res := OnTaskStatusChanged(tk, task.StatusActive, task.StatusPaused, time.Now())

	require.Len(t, res.SyncEffects, 1)
	assert.Equal(t, EffectNoop, res.SyncEffects[0].Kind)
}

func TestOnTaskStatusChanged_PauseAppliesHold(t *testing.T) {
	tk := boundTask("t1", task.StatusActive)
	res := OnTaskStatusChanged(tk, task.StatusActive, task.StatusPaused, time.Now())

	kinds := effectKinds(res.SyncEffects)
	assert.Contains(t, kinds, EffectApplyHold)
	assert.Contains(t, kinds, EffectUpdateGoalStatus)

	// Hold effect must come before the goal update so the partitioned
	// self-effects land in the same commit as the status.
	assert.Equal(t, EffectApplyHold, res.SyncEffects[0].Kind)
	assert.Equal(t, task.HoldPreempted, res.SyncEffects[0].HoldReason)
}

func TestOnTaskStatusChanged_ResumeClearsHold(t *testing.T) {
	tk := boundTask("t1", task.StatusPaused)
	tk.Metadata.GoalBinding.Hold = &task.Hold{Reason: task.HoldPreempted, HeldAt: time.Now()}

	res := OnTaskStatusChanged(tk, task.StatusPaused, task.StatusPending, time.Now())
	assert.Contains(t, effectKinds(res.SyncEffects), EffectClearHold)
}

func TestOnTaskStatusChanged_CompletedUpdatesGoal(t *testing.T) {
	tk := boundTask("t1", task.StatusInProgress)
	res := OnTaskStatusChanged(tk, task.StatusInProgress, task.StatusCompleted, time.Now())

	require.NotEmpty(t, res.GoalStatusUpdates)
	assert.Equal(t, "g-1", res.GoalStatusUpdates[0].GoalID)
	assert.Equal(t, "completed", res.GoalStatusUpdates[0].Status)
}

func TestOnGoalAction_PausedEmitsHoldThenStatus(t *testing.T) {
	tk := boundTask("t1", task.StatusActive)
	res := OnGoalAction(GoalAction{Kind: GoalPaused, GoalID: "g-1"}, []*task.Task{tk}, time.Now())

	require.Len(t, res.SyncEffects, 2)
	assert.Equal(t, EffectApplyHold, res.SyncEffects[0].Kind)
	assert.Equal(t, EffectUpdateTaskStatus, res.SyncEffects[1].Kind)
	assert.Equal(t, task.StatusPaused, res.SyncEffects[1].Status)
}

func TestOnGoalAction_ManualPauseHardWall(t *testing.T) {
	tk := boundTask("t1", task.StatusPaused)
	tk.Metadata.GoalBinding.Hold = &task.Hold{Reason: task.HoldManualPause, HeldAt: time.Now()}

	res := OnGoalAction(GoalAction{Kind: GoalResumed, GoalID: "g-1"}, []*task.Task{tk}, time.Now())

	require.Len(t, res.SyncEffects, 1)
	assert.Equal(t, EffectNoop, res.SyncEffects[0].Kind)
	assert.Contains(t, res.SyncEffects[0].Reason, "manual_pause")
}

func TestOnGoalAction_ResumeClearsNonManualHold(t *testing.T) {
	tk := boundTask("t1", task.StatusPaused)
	tk.Metadata.GoalBinding.Hold = &task.Hold{Reason: task.HoldWaitingOnPrereq, HeldAt: time.Now()}

	res := OnGoalAction(GoalAction{Kind: GoalResumed, GoalID: "g-1"}, []*task.Task{tk}, time.Now())

	require.Len(t, res.SyncEffects, 2)
	assert.Equal(t, EffectClearHold, res.SyncEffects[0].Kind)
	assert.Equal(t, EffectUpdateTaskStatus, res.SyncEffects[1].Kind)
	assert.Equal(t, task.StatusPending, res.SyncEffects[1].Status)
}

func TestOnGoalAction_TerminalTasksAreImmutable(t *testing.T) {
	tk := boundTask("t1", task.StatusCompleted)
	res := OnGoalAction(GoalAction{Kind: GoalCanceled, GoalID: "g-1"}, []*task.Task{tk}, time.Now())

	require.Len(t, res.SyncEffects, 1)
	assert.Equal(t, EffectNoop, res.SyncEffects[0].Kind)
}

func TestPartitionSelfHoldEffects(t *testing.T) {
	effects := []SyncEffect{
		{Kind: EffectApplyHold, TaskID: "t1"},
		{Kind: EffectClearHold, TaskID: "t2"},
		{Kind: EffectUpdateTaskStatus, TaskID: "t1", Status: task.StatusPaused},
		{Kind: EffectUpdateGoalStatus, GoalID: "g-1"},
		{Kind: EffectClearHold, TaskID: "t1"},
	}

	self, remaining := PartitionSelfHoldEffects("t1", effects)

	assert.Len(t, self, 2)
	for _, e := range self {
		assert.Equal(t, "t1", e.TaskID)
		assert.Contains(t, []EffectKind{EffectApplyHold, EffectClearHold}, e.Kind)
	}

	// Union of partitions equals the input
	assert.Equal(t, len(effects), len(self)+len(remaining))
	assert.Contains(t, remaining, effects[1], "hold effect on another task is not self")
	assert.Contains(t, remaining, effects[2], "status effect on self is still applied after commit")
}

func TestApplySyncEffects_RoutesThroughDeps(t *testing.T) {
	other := boundTask("t2", task.StatusPaused)
	other.Metadata.GoalBinding.Hold = &task.Hold{Reason: task.HoldPreempted}

	var statusCalls []string
	var goalCalls []string
	committed := false

	deps := Deps{
		GetTask: func(id string) *task.Task {
			if id == "t2" {
				return other
			}
			return nil
		},
		SetTask: func(tk *task.Task, _ task.SetOptions) { committed = true },
		UpdateTaskStatus: func(id string, st task.Status, reason string) error {
			statusCalls = append(statusCalls, id+":"+string(st))
			return nil
		},
		UpdateGoalStatus: func(goalID, status, reason string) error {
			goalCalls = append(goalCalls, goalID+":"+status)
			return nil
		},
	}

	effects := []SyncEffect{
		{Kind: EffectClearHold, TaskID: "t2"},
		{Kind: EffectUpdateTaskStatus, TaskID: "t2", Status: task.StatusPending},
		{Kind: EffectUpdateGoalStatus, GoalID: "g-1", GoalStatus: "active"},
		{Kind: EffectNoop, Reason: "nothing"},
	}

	require.NoError(t, ApplySyncEffects(deps, effects, time.Now()))

	assert.Nil(t, other.Metadata.GoalBinding.Hold, "clear_hold mutates the live task")
	assert.True(t, committed, "hold change is committed")
	assert.Equal(t, []string{"t2:pending"}, statusCalls)
	assert.Equal(t, []string{"g-1:active"}, goalCalls)
}

func TestApplySyncEffects_PropagatesFirstError(t *testing.T) {
	boom := errors.New("rejected")
	deps := Deps{
		GetTask: func(string) *task.Task { return nil },
		SetTask: func(*task.Task, task.SetOptions) {},
		UpdateTaskStatus: func(string, task.Status, string) error {
			return boom
		},
	}

	err := ApplySyncEffects(deps, []SyncEffect{
		{Kind: EffectUpdateTaskStatus, TaskID: "t1", Status: task.StatusPending},
	}, time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestRunManagementAction(t *testing.T) {
	now := time.Now()

	t.Run("terminal rejects all ops", func(t *testing.T) {
		for _, op := range []ManagementOp{OpPause, OpResume, OpCancel, OpPrioritize} {
			tk := boundTask("t1", task.StatusCompleted)
			err := RunManagementAction(tk, op, now, func() error { return nil })
			assert.ErrorIs(t, err, ErrInvalidTransition, string(op))
		}
	})

	t.Run("unplannable accepts management ops", func(t *testing.T) {
		tk := boundTask("t1", task.StatusUnplannable)
		require.NoError(t, RunManagementAction(tk, OpPrioritize, now, func() error { return nil }))
	})

	t.Run("pause sets manual_pause hold before handler", func(t *testing.T) {
		tk := boundTask("t1", task.StatusActive)
		var seen task.HoldReason
		err := RunManagementAction(tk, OpPause, now, func() error {
			seen = tk.Metadata.GoalBinding.Hold.Reason
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, task.HoldManualPause, seen)
		assert.Equal(t, task.HoldManualPause, tk.Metadata.GoalBinding.Hold.Reason)
	})

	t.Run("rejected handler rolls back the hold", func(t *testing.T) {
		tk := boundTask("t1", task.StatusActive)
		prior := &task.Hold{Reason: task.HoldWaitingOnPrereq, HeldAt: now, ResumeHints: []string{"h"}}
		tk.Metadata.GoalBinding.Hold = prior

		err := RunManagementAction(tk, OpPause, now, func() error { return errors.New("nope") })
		require.Error(t, err)

		restored := tk.Metadata.GoalBinding.Hold
		require.NotNil(t, restored)
		assert.Equal(t, task.HoldWaitingOnPrereq, restored.Reason)
		assert.Equal(t, []string{"h"}, restored.ResumeHints)
	})

	t.Run("resume clears manual_pause", func(t *testing.T) {
		tk := boundTask("t1", task.StatusPaused)
		tk.Metadata.GoalBinding.Hold = &task.Hold{Reason: task.HoldManualPause, HeldAt: now}

		require.NoError(t, RunManagementAction(tk, OpResume, now, func() error { return nil }))
		assert.Nil(t, tk.Metadata.GoalBinding.Hold, "explicit user resume clears the hard wall")
	})
}

func TestDetectIllegalStates(t *testing.T) {
	t.Run("clean task", func(t *testing.T) {
		tk := boundTask("t1", task.StatusActive)
		assert.Empty(t, DetectIllegalStates(tk))
	})

	t.Run("blocked pair mismatch", func(t *testing.T) {
		tk := boundTask("t1", task.StatusActive)
		tk.Metadata.BlockedReason = "shadow_mode"
		v := DetectIllegalStates(tk)
		require.Len(t, v, 1)
		assert.Contains(t, v[0], "blocked_pair_mismatch")
	})

	t.Run("paused goal-bound without hold", func(t *testing.T) {
		tk := boundTask("t1", task.StatusPaused)
		assert.Contains(t, DetectIllegalStates(tk), "paused_goal_bound_without_hold")
	})

	t.Run("done but not completed is the tolerated relaxation", func(t *testing.T) {
		tk := boundTask("t1", task.StatusInProgress)
		tk.Steps = []*task.Step{{ID: "s1", Done: true}}
		v := DetectIllegalStates(tk)
		require.Len(t, v, 1)
		assert.Equal(t, ViolationDoneButNotCompleted, v[0])
	})
}

func TestDetectGoalBindingDrift(t *testing.T) {
	gated := map[task.Type]bool{task.TypeCrafting: true}

	t.Run("bound task has no drift", func(t *testing.T) {
		assert.Nil(t, DetectGoalBindingDrift(boundTask("t1", task.StatusPending), true, gated))
	})

	t.Run("unbound goal task with ungated type", func(t *testing.T) {
		tk := &task.Task{ID: "t1", Type: task.TypeMining, Source: task.SourceGoal}
		d := DetectGoalBindingDrift(tk, true, gated)
		require.NotNil(t, d)
		assert.Equal(t, "type_not_gated:mining", d.Reason)
	})

	t.Run("resolver disabled", func(t *testing.T) {
		tk := &task.Task{ID: "t1", Type: task.TypeCrafting, Source: task.SourceGoal}
		d := DetectGoalBindingDrift(tk, false, gated)
		require.NotNil(t, d)
		assert.Equal(t, "goal_resolver_disabled", d.Reason)
	})

	t.Run("non-goal source never drifts", func(t *testing.T) {
		tk := &task.Task{ID: "t1", Type: task.TypeMining, Source: task.SourceManual}
		assert.Nil(t, DetectGoalBindingDrift(tk, true, gated))
	})
}
