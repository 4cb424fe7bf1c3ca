package integration

import (
	"fmt"
	"time"

	"blockmind/internal/logging"
	"blockmind/internal/task"
)

// BlockedRigGReplanExhausted marks a task whose replan budget ran out.
const BlockedRigGReplanExhausted = "rig_g_replan_exhausted"

const (
	replanMaxAttempts = 3
	replanBaseDelay   = 5 * time.Second
)

// StepStartOptions qualifies StartTaskStep. DryRun evaluates the feasibility
// gate and emits the shadow advice without mutating anything.
type StepStartOptions struct {
	DryRun bool
}

// StepAdvice is the feasibility verdict for a step start.
type StepAdvice struct {
	ShouldProceed        bool `json:"shouldProceed"`
	SuggestedParallelism int  `json:"suggestedParallelism"`
}

// ErrStepNotFound is returned when the step id is not on the task.
var ErrStepNotFound = fmt.Errorf("step not found")

// StartTaskStep marks a step as started after running the plan feasibility
// gate. The gate runs at most once per task; subsequent starts skip straight
// to the step snapshot.
func (i *Integration) StartTaskStep(id, stepID string, opts ...StepStartOptions) (StepAdvice, error) {
	var opt StepStartOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	t := i.store.Get(id)
	if t == nil {
		return StepAdvice{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	step := t.StepByID(stepID)
	if step == nil {
		return StepAdvice{}, fmt.Errorf("%w: %s on task %s", ErrStepNotFound, stepID, id)
	}

	advice := StepAdvice{ShouldProceed: true, SuggestedParallelism: 1}

	solverMeta := t.Metadata.Solver
	if solverMeta != nil && solverMeta.RigG != nil && !solverMeta.RigGChecked {
		signals := solverMeta.RigG.Signals

		if !signals.FeasibilityPassed {
			advice.ShouldProceed = false
			reason := fmt.Sprintf("Feasibility failed: %s", topRejectionKind(signals.RejectionKinds))

			if opt.DryRun {
				i.emitLifecycle(LifecycleShadowRigGEvaluation, id, map[string]any{
					"advice": map[string]any{
						"shouldProceed":        false,
						"suggestedParallelism": advice.SuggestedParallelism,
					},
					"reason": reason,
				})
				return advice, nil
			}

			now := i.now()
			t.Status = task.StatusUnplannable
			t.Metadata.BlockedReason = reason
			t.Metadata.BlockedAt = now
			i.store.Set(t, task.SetOptions{HistoryReason: reason})
			i.scheduleReplan(id)
			return advice, nil
		}

		advice.SuggestedParallelism = signals.DAGNodeCount - signals.DAGEdgeCount
		if advice.SuggestedParallelism < 1 {
			advice.SuggestedParallelism = 1
		}

		if opt.DryRun {
			i.emitLifecycle(LifecycleShadowRigGEvaluation, id, map[string]any{
				"advice": map[string]any{
					"shouldProceed":        true,
					"suggestedParallelism": advice.SuggestedParallelism,
				},
			})
			return advice, nil
		}
		solverMeta.RigGChecked = true
	} else if opt.DryRun {
		i.emitLifecycle(LifecycleShadowRigGEvaluation, id, map[string]any{
			"advice": map[string]any{
				"shouldProceed":        true,
				"suggestedParallelism": 1,
			},
		})
		return advice, nil
	}

	step.StartedAt = i.now()
	if t.Status == task.StatusActive || t.Status == task.StatusPending {
		t.Status = task.StatusInProgress
	}
	i.store.Set(t)
	return advice, nil
}

// scheduleReplan schedules a debounced replan for an unplannable task.
// Idempotent: a pending timer makes re-entry a no-op.
func (i *Integration) scheduleReplan(taskID string) {
	log := logging.Get(logging.CategorySolver)

	i.replanMu.Lock()
	defer i.replanMu.Unlock()

	if _, pending := i.replanTimers[taskID]; pending {
		log.Info("replan already scheduled for %s", taskID)
		return
	}

	t := i.store.Get(taskID)
	if t == nil {
		return
	}
	if t.Metadata.Solver == nil {
		t.Metadata.Solver = &task.SolverMeta{}
	}
	if t.Metadata.Solver.RigGReplan == nil {
		t.Metadata.Solver.RigGReplan = &task.RigGReplan{}
	}
	replan := t.Metadata.Solver.RigGReplan

	if replan.Attempts >= replanMaxAttempts {
		replan.InFlight = false
		t.Metadata.BlockedReason = BlockedRigGReplanExhausted
		t.Metadata.BlockedAt = i.now()
		i.store.Set(t)
		i.emitLifecycle(LifecycleRigGReplanExhausted, taskID, map[string]any{
			"attempts": replan.Attempts,
		})
		log.Warn("replan budget exhausted for %s after %d attempts", taskID, replan.Attempts)
		return
	}

	delay := replanBaseDelay << replan.Attempts
	replan.Attempts++
	replan.InFlight = true
	i.store.Set(t)

	i.emitLifecycle(LifecycleRigGReplanNeeded, taskID, map[string]any{
		"attempt": replan.Attempts,
		"delayMs": delay.Milliseconds(),
	})
	log.Info("replan %d/%d for %s in %s", replan.Attempts, replanMaxAttempts, taskID, delay)

	i.replanTimers[taskID] = time.AfterFunc(delay, func() { i.replanFired(taskID) })
}

// replanFired runs when a replan timer elapses: clears the in-flight flag,
// re-arms the gate, and returns a still-unplannable task to service so the
// next step start re-evaluates feasibility. A repeat failure schedules the
// next attempt against the persisted budget.
func (i *Integration) replanFired(taskID string) {
	i.replanMu.Lock()
	delete(i.replanTimers, taskID)
	i.replanMu.Unlock()

	t := i.store.Get(taskID)
	if t == nil {
		return
	}
	if t.Metadata.Solver != nil && t.Metadata.Solver.RigGReplan != nil {
		t.Metadata.Solver.RigGReplan.InFlight = false
	}

	if t.Status != task.StatusUnplannable {
		i.store.Set(t)
		return
	}

	t.Status = task.StatusActive
	t.Metadata.BlockedReason = ""
	t.Metadata.BlockedAt = time.Time{}
	if t.Metadata.Solver != nil {
		t.Metadata.Solver.RigGChecked = false
		t.Metadata.Solver.ReplanCount++
	}
	i.store.Set(t, task.SetOptions{HistoryReason: "rig_g_replan"})
}

// ReplanTimerCount reports the number of pending replan timers.
func (i *Integration) ReplanTimerCount() int {
	i.replanMu.Lock()
	defer i.replanMu.Unlock()
	return len(i.replanTimers)
}

func topRejectionKind(kinds []string) string {
	if len(kinds) == 0 {
		return "unknown"
	}
	return kinds[0]
}
