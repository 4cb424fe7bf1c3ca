package protocol

import (
	"fmt"
	"time"

	"blockmind/internal/logging"
	"blockmind/internal/task"
)

// Deps is the injected dependency surface of the effect applier.
//
// UpdateTaskStatus MUST route through the integration's mutator with
// protocol origin: writing statuses straight to the store would skip the
// reducer hooks on the target task, and routing with runtime origin would
// re-fire them and recurse without bound.
type Deps struct {
	GetTask          func(id string) *task.Task
	SetTask          func(t *task.Task, opts task.SetOptions)
	UpdateTaskStatus func(id string, status task.Status, reason string) error
	UpdateGoalStatus func(goalID, status, reason string) error
}

// ApplySyncEffects applies reducer effects through the dependency surface.
// The caller has already partitioned away and applied self hold effects
// before its commit; everything passed here runs after that commit.
func ApplySyncEffects(deps Deps, effects []SyncEffect, now time.Time) error {
	log := logging.Get(logging.CategoryProtocol)

	var firstErr error
	for _, e := range effects {
		switch e.Kind {
		case EffectNoop:
			log.Debug("noop effect: %s", e.Reason)

		case EffectApplyHold, EffectClearHold:
			t := deps.GetTask(e.TaskID)
			if t == nil {
				log.Warn("hold effect for unknown task %s", e.TaskID)
				continue
			}
			ApplyHoldToTask(t, e, now)
			deps.SetTask(t, task.SetOptions{})
			log.Debug("%s on %s: %s", e.Kind, e.TaskID, e.Reason)

		case EffectUpdateTaskStatus:
			if deps.UpdateTaskStatus == nil {
				firstErr = coalesce(firstErr, fmt.Errorf("update_task_status effect with no mutator wired"))
				continue
			}
			if err := deps.UpdateTaskStatus(e.TaskID, e.Status, e.Reason); err != nil {
				log.Warn("update_task_status %s -> %s failed: %v", e.TaskID, e.Status, err)
				firstErr = coalesce(firstErr, err)
			}

		case EffectUpdateGoalStatus:
			if deps.UpdateGoalStatus == nil {
				log.Debug("no goal status sink; dropping update for goal %s", e.GoalID)
				continue
			}
			if err := deps.UpdateGoalStatus(e.GoalID, e.GoalStatus, e.Reason); err != nil {
				log.Warn("update_goal_status %s -> %s failed: %v", e.GoalID, e.GoalStatus, err)
				firstErr = coalesce(firstErr, err)
			}

		default:
			log.Warn("unknown effect kind %q", e.Kind)
		}
	}
	return firstErr
}

func coalesce(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
