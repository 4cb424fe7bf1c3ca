package integration

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"blockmind/internal/logging"
	"blockmind/internal/protocol"
	"blockmind/internal/task"
)

// Blocked reasons set by the finalization pipeline.
const (
	BlockedAdvisoryAction          = "advisory_action"
	BlockedRigESolverUnimplemented = "rig_e_solver_unimplemented"
	BlockedNoExecutablePlan        = "no_executable_plan"
	BlockedMissingSterlingDigest   = "contract_missing_keys"
)

// Task types the goal resolver gates. A source=goal task of any other type
// finalizing without a binding is drift, not a resolver bug.
var goalGatedTypes = map[task.Type]bool{
	task.TypeCrafting:   true,
	task.TypeMining:     true,
	task.TypeGathering:  true,
	task.TypeBuilding:   true,
	task.TypeNavigation: true,
}

// AddTask finalizes a partial task and commits it. Returns the persisted task,
// which may be a pre-existing duplicate.
func (i *Integration) AddTask(ctx context.Context, partial *task.Task) (*task.Task, error) {
	if partial == nil {
		return nil, fmt.Errorf("nil task")
	}
	log := logging.Get(logging.CategoryIntegration)
	now := i.now()

	t := &task.Task{
		ID:          partial.ID,
		Title:       partial.Title,
		Description: partial.Description,
		Type:        partial.Type,
		Status:      partial.Status,
		Source:      partial.Source,
		Priority:    clamp01(partial.Priority),
		Urgency:     clamp01(partial.Urgency),
		Steps:       partial.Steps,
		Parameters:  partial.Parameters,
		Metadata:    propagateMetadata(partial.Metadata),
		CreatedAt:   now,
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Type == "" {
		t.Type = task.TypeGeneral
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	t.Metadata.CreatedAt = now
	t.Metadata.UpdatedAt = partial.Metadata.UpdatedAt

	// Dedup before any expensive work. Sterling tasks additionally hold a
	// digest reservation across the ingest so two concurrent adds of the same
	// envelope cannot both insert.
	var reservedKey string
	if t.Type == task.TypeSterlingIR && t.Metadata.Sterling != nil {
		key := task.SterlingDedupeKey(t.Metadata.Sterling)
		if existing := i.store.FindByDedupeKey(key); existing != nil {
			log.Info("duplicate sterling task for digest %s: returning %s",
				t.Metadata.Sterling.CommittedIRDigest, existing.ID)
			return existing, nil
		}
		if !i.store.ReserveDedupeKey(key) {
			return nil, fmt.Errorf("concurrent creation in flight for dedupe key %s", key)
		}
		reservedKey = key
		defer i.store.ReleaseDedupeKey(reservedKey)
	}
	if existing := i.store.FindSimilar(t); existing != nil {
		log.Info("similar task exists: returning %s instead of inserting %q", existing.ID, t.Title)
		return existing, nil
	}

	i.deriveGoalKey(t)

	switch {
	case t.Type == task.TypeSterlingIR:
		if err := i.ingestSterling(ctx, t); err != nil {
			return nil, err
		}

	case t.Type == task.TypeAdvisoryAction:
		t.Steps = nil
		t.Metadata.BlockedReason = BlockedAdvisoryAction
		t.Metadata.NoStepsReason = "advisory-skip"

	case t.Type == task.TypeNavigation || t.Type == task.TypeExploration:
		i.planMacro(ctx, t)

	default:
		i.resolveRequirement(ctx, t)
	}

	// Generic fallback for tasks that came out of their pathway with no steps.
	// Pathway-specific blocked reasons are never overwritten here.
	if len(t.Steps) == 0 && t.Metadata.BlockedReason == "" && t.Type != task.TypeAdvisoryAction {
		t.Status = task.StatusPendingPlanning
		t.Metadata.BlockedReason = BlockedNoExecutablePlan
		t.Metadata.NoStepsReason = "no-executable-plan"
	}

	i.stampOrigin(t)
	if t.Metadata.Origin == nil {
		if i.cfg.Planning.StrictFinalize {
			i.emitLifecycle(LifecycleFinalizeInvariantViolation, t.ID, map[string]any{
				"title": t.Title, "source": string(t.Source),
			})
			return nil, fmt.Errorf("task %s finalized without origin", t.ID)
		}
		log.Warn("task %s finalized without origin", t.ID)
	}

	// Blocked-pair backfill anchors the TTL at the task's last update rather
	// than now, so the safety net never extends a TTL.
	if t.Metadata.BlockedReason != "" && t.Metadata.BlockedAt.IsZero() {
		anchor := t.Metadata.UpdatedAt
		if anchor.IsZero() {
			anchor = now
		}
		t.Metadata.BlockedAt = anchor
	}

	if drift := protocol.DetectGoalBindingDrift(t, i.cfg.Planning.GoalResolverEnabled, goalGatedTypes); drift != nil {
		i.emitLifecycle(LifecycleGoalBindingDrift, t.ID, map[string]any{
			"type": string(drift.Type), "source": string(drift.Source),
			"originKind": string(drift.OriginKind), "reason": drift.Reason,
		})
	}

	i.store.Set(t)
	log.Info("task added: %s %q type=%s status=%s blocked=%q",
		t.ID, t.Title, t.Type, t.Status, t.Metadata.BlockedReason)

	i.Events.Emit(Event{Type: EventTaskAdded, TaskID: t.ID, At: now, Payload: map[string]any{
		"title": t.Title, "type": string(t.Type), "priority": t.Priority,
	}})
	if t.Priority >= 0.8 {
		i.emitLifecycle(LifecycleHighPriorityAdded, t.ID, map[string]any{"priority": t.Priority})
	}

	return t, nil
}

// propagateMetadata rebuilds the metadata envelope keeping only the vetted
// keys. Everything else, including extensions, is dropped at finalization.
func propagateMetadata(in task.Metadata) task.Metadata {
	out := task.Metadata{
		Origin:           in.Origin,
		SubtaskKey:       in.SubtaskKey,
		Provenance:       in.Provenance,
		ReflexInstanceID: in.ReflexInstanceID,
		GoalBinding:      in.GoalBinding,
		Sterling:         in.Sterling,
		Solver:           in.Solver,
		BlockedReason:    in.BlockedReason,
		BlockedAt:        in.BlockedAt,
		ParentTaskID:     in.ParentTaskID,
		Category:         in.Category,
		Requirement:      in.Requirement,
		NextEligibleAt:   in.NextEligibleAt,
		UpdatedAt:        in.UpdatedAt,
	}
	if in.GoalKey != "" {
		out.GoalKey = in.GoalKey
	}
	if in.Tags != nil {
		out.Tags = append([]string(nil), in.Tags...)
	}
	return out
}

// deriveGoalKey computes the goal dedup identity from the binding's goal type
// and the task parameters when the caller did not supply one.
func (i *Integration) deriveGoalKey(t *task.Task) {
	binding := t.Metadata.GoalBinding
	if binding == nil || t.Metadata.GoalKey != "" || t.Parameters == nil {
		return
	}
	key, ok := protocol.GoalKey(binding.GoalType, t.Parameters)
	if !ok {
		i.emitLifecycle(LifecycleIntentParamsUnserializable, t.ID, map[string]any{
			"goalType": binding.GoalType,
		})
		return
	}
	t.Metadata.GoalKey = key
}

// stampOrigin infers and stamps the finalization origin exactly once.
func (i *Integration) stampOrigin(t *task.Task) {
	if t.Metadata.Origin != nil {
		return
	}

	kind := task.OriginAPI
	switch {
	case t.Metadata.GoalBinding != nil:
		kind = task.OriginGoalResolver
	case t.Source == task.SourceGoal:
		kind = task.OriginGoalSource
	case t.Source == task.SourceAutonomous && hasCognitiveTag(t.Metadata.Tags):
		kind = task.OriginCognition
	case t.Metadata.ParentTaskID != "":
		kind = task.OriginExecutor
	}

	t.Metadata.Origin = &task.Origin{
		Kind:         kind,
		CreatedAt:    i.now(),
		ParentTaskID: t.Metadata.ParentTaskID,
	}
}

func hasCognitiveTag(tags []string) bool {
	for _, tag := range tags {
		switch strings.ToLower(tag) {
		case "cognition", "cognitive", "thought":
			return true
		}
	}
	return false
}

// planMacro runs the hierarchical-planner pathway for navigation and
// exploration tasks. Without a configured planner the task blocks on the
// solver sentinel rather than pretending a degraded plan is real.
func (i *Integration) planMacro(ctx context.Context, t *task.Task) {
	if len(t.Steps) > 0 {
		return
	}
	if i.planner == nil {
		t.Status = task.StatusPendingPlanning
		t.Metadata.BlockedReason = BlockedRigESolverUnimplemented
		i.emitLifecycle(LifecycleSolverUnavailable, t.ID, map[string]any{"type": string(t.Type)})
		return
	}

	planCtx, err := i.planner.ContextFromRequirement(t.Metadata.Requirement)
	if err == nil {
		var steps []task.Step
		steps, err = i.planner.PlanMacroPath(ctx, planCtx)
		if err == nil {
			t.Steps = make([]*task.Step, len(steps))
			for idx := range steps {
				s := steps[idx]
				if s.ID == "" {
					s.ID = uuid.New().String()
				}
				s.Order = idx
				t.Steps[idx] = &s
			}
			return
		}
	}

	t.Status = task.StatusPendingPlanning
	switch {
	case strings.Contains(err.Error(), ErrOntologyGap.Error()):
		t.Metadata.BlockedReason = ErrOntologyGap.Error()
	default:
		t.Metadata.BlockedReason = ErrNoPlanFound.Error()
	}
	logging.Get(logging.CategoryIntegration).Warn("macro planning failed for %s: %v", t.ID, err)
}

// resolveRequirement drives step generation for the default pathway. Steps
// supplied by the caller win; then requirement-declared steps; then a single
// generic step derived from the title.
func (i *Integration) resolveRequirement(_ context.Context, t *task.Task) {
	if len(t.Steps) > 0 {
		for idx, s := range t.Steps {
			if s.ID == "" {
				s.ID = uuid.New().String()
			}
			s.Order = idx
		}
		return
	}

	if req := t.Metadata.Requirement; req != nil {
		if raw, ok := req["steps"].([]any); ok {
			for idx, item := range raw {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				step := &task.Step{
					ID:    uuid.New().String(),
					Order: idx,
				}
				if label, ok := m["label"].(string); ok {
					step.Label = label
				}
				if leaf, ok := m["leaf"].(string); ok {
					step.Meta.Leaf = leaf
					step.Meta.Executable = i.leaves.Known(leaf)
				}
				if args, ok := m["args"].(map[string]any); ok {
					step.Meta.Args = args
				}
				t.Steps = append(t.Steps, step)
			}
			if len(t.Steps) > 0 {
				return
			}
		}
	}

	if t.Title != "" {
		t.Steps = []*task.Step{{
			ID:    uuid.New().String(),
			Label: t.Title,
			Order: 0,
		}}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
