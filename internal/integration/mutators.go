package integration

import (
	"context"
	"fmt"
	"time"

	"blockmind/internal/logging"
	"blockmind/internal/protocol"
	"blockmind/internal/task"
)

// MutationOrigin distinguishes runtime mutations from protocol re-entry.
type MutationOrigin string

const (
	// OriginRuntime is the default: reducer hooks fire on goal-bound tasks.
	OriginRuntime MutationOrigin = "runtime"
	// OriginProtocol marks effects routed back by the effect applier. Hooks
	// are skipped entirely; firing them again would recurse without bound.
	OriginProtocol MutationOrigin = "protocol"
)

// StatusOptions qualifies an UpdateTaskStatus call.
type StatusOptions struct {
	Origin MutationOrigin
	Reason string
}

// ErrTaskNotFound is returned by the mutators for unknown task ids.
var ErrTaskNotFound = fmt.Errorf("task not found")

// ErrTerminalImmutable is returned when a mutation targets a terminal task.
var ErrTerminalImmutable = fmt.Errorf("terminal task is immutable")

// UpdateTaskStatus transitions a task and runs the goal-binding protocol on
// the change. Self hold effects are applied to the in-memory task before the
// commit so status and hold land atomically; remaining effects are applied
// after the commit through the protocol dependency surface.
func (i *Integration) UpdateTaskStatus(id string, status task.Status, opts ...StatusOptions) error {
	var opt StatusOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.Origin == "" {
		opt.Origin = OriginRuntime
	}

	t := i.store.Get(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalImmutable, id, t.Status)
	}
	if t.Status == status {
		return nil
	}

	now := i.now()
	prev := t.Status
	t.Status = status

	var remaining []protocol.SyncEffect
	if opt.Origin == OriginRuntime && t.GoalBound() {
		res := protocol.OnTaskStatusChanged(t, prev, status, now)
		var self []protocol.SyncEffect
		self, remaining = protocol.PartitionSelfHoldEffects(t.ID, res.SyncEffects)
		for _, e := range self {
			protocol.ApplyHoldToTask(t, e, now)
		}
	}

	// A terminal task never keeps its hold, whichever origin ended it.
	if status.IsTerminal() && t.Metadata.GoalBinding != nil {
		t.Metadata.GoalBinding.Hold = nil
	}

	i.store.Set(t, task.SetOptions{HistoryReason: opt.Reason})
	logging.IntegrationDebug("status %s: %s -> %s (origin=%s reason=%q)",
		id, prev, status, opt.Origin, opt.Reason)

	if len(remaining) > 0 {
		if err := protocol.ApplySyncEffects(i.protocolDeps(), remaining, now); err != nil {
			logging.Get(logging.CategoryProtocol).Warn("effect application for %s: %v", id, err)
		}
	}

	if status.IsTerminal() {
		lifecycle := LifecycleFailed
		if status == task.StatusCompleted {
			lifecycle = LifecycleCompleted
		}
		i.emitLifecycle(lifecycle, id, map[string]any{"reason": opt.Reason})
		i.reportEpisode(context.Background(), t, status, opt.Reason)
	}
	return nil
}

// UpdateTaskProgress commits a progress value and surfaces it to the goal.
func (i *Integration) UpdateTaskProgress(id string, progress float64) error {
	t := i.store.Get(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	t.Progress = clamp01(progress)
	i.store.Set(t)

	if t.GoalBound() {
		res := protocol.OnTaskProgressUpdated(t, t.Progress)
		if err := protocol.ApplySyncEffects(i.protocolDeps(), res.SyncEffects, i.now()); err != nil {
			logging.Get(logging.CategoryProtocol).Warn("progress effects for %s: %v", id, err)
		}
	}
	return nil
}

// MetadataPatch is a partial metadata update. Pointer fields distinguish
// "absent" from "set to zero".
type MetadataPatch struct {
	Origin *task.Origin // always ignored, with a warning

	GoalKey          *string
	SubtaskKey       *string
	ReflexInstanceID *string
	GoalBinding      *task.GoalBinding
	Sterling         *task.SterlingMeta
	Solver           *task.SolverMeta

	BlockedReason *string
	BlockedAt     *time.Time

	ParentTaskID   *string
	Tags           []string
	Category       *string
	Requirement    map[string]any
	NextEligibleAt *time.Time
	RetryCount     *int
}

// UpdateTaskMetadata merges a patch into the task metadata. Origin is stamped
// once at finalization and never changed here. BlockedAt follows the TTL
// anchor rules: first block anchors now, a same-reason re-block preserves the
// anchor, a reason change resets it, and an explicit caller BlockedAt wins.
func (i *Integration) UpdateTaskMetadata(id string, patch MetadataPatch) error {
	t := i.store.Get(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	m := &t.Metadata

	if patch.Origin != nil {
		logging.Get(logging.CategoryIntegration).Warn(
			"metadata patch for %s attempted to overwrite origin; ignored", id)
	}

	if patch.GoalKey != nil {
		m.GoalKey = *patch.GoalKey
	}
	if patch.SubtaskKey != nil {
		m.SubtaskKey = *patch.SubtaskKey
	}
	if patch.ReflexInstanceID != nil {
		m.ReflexInstanceID = *patch.ReflexInstanceID
	}
	if patch.GoalBinding != nil {
		m.GoalBinding = patch.GoalBinding
	}
	if patch.Sterling != nil {
		m.Sterling = patch.Sterling
	}
	if patch.Solver != nil {
		m.Solver = patch.Solver
	}
	if patch.ParentTaskID != nil {
		m.ParentTaskID = *patch.ParentTaskID
	}
	if patch.Tags != nil {
		m.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.Category != nil {
		m.Category = *patch.Category
	}
	if patch.Requirement != nil {
		m.Requirement = patch.Requirement
	}
	if patch.NextEligibleAt != nil {
		m.NextEligibleAt = *patch.NextEligibleAt
	}
	if patch.RetryCount != nil {
		m.RetryCount = *patch.RetryCount
	}

	if patch.BlockedReason != nil {
		next := *patch.BlockedReason
		switch {
		case next == "":
			m.BlockedReason = ""
			m.BlockedAt = time.Time{}
		case m.BlockedReason == next:
			// Same-reason re-block preserves the anchor so TTLs keep counting.
			m.BlockedReason = next
		default:
			m.BlockedReason = next
			m.BlockedAt = i.now()
		}
	}
	if patch.BlockedAt != nil {
		m.BlockedAt = *patch.BlockedAt
	}

	i.store.Set(t)
	return nil
}
