package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"blockmind/internal/logging"
	"blockmind/internal/protocol"
	"blockmind/internal/sterling"
	"blockmind/internal/task"
)

// Blocked reasons on the Sterling ingest path.
const (
	BlockedIntentResolutionDisabled    = "blocked_intent_resolution_disabled"
	BlockedIntentResolutionUnavailable = "blocked_intent_resolution_unavailable"
	BlockedUndispatchableSteps         = "blocked_undispatchable_steps"
	BlockedUnresolvedIntents           = "blocked_unresolved_intents"
)

const (
	// Bounded retry for blocked_digest_unknown only: 2 retries, 3 attempts.
	ingestMaxAttempts = 3
	ingestBaseDelay   = 250 * time.Millisecond

	// Backoff floor when the intent resolver is unavailable, so the executor
	// does not hammer a down service.
	intentUnavailableBackoff = 30 * time.Second
)

// ingestSterling expands a committed IR envelope into steps and resolves any
// intent leaves. Blocked outcomes park the task in pending_planning with full
// exec provenance; only a missing digest rejects the add outright.
func (i *Integration) ingestSterling(ctx context.Context, t *task.Task) error {
	log := logging.Get(logging.CategorySterling)

	meta := t.Metadata.Sterling
	if meta == nil || meta.CommittedIRDigest == "" {
		return fmt.Errorf("%s: sterling task requires committedIrDigest", BlockedMissingSterlingDigest)
	}

	exec := &task.SterlingExec{ExpansionMode: "ingest"}
	meta.Exec = exec
	start := i.now()

	if i.sterling == nil || !i.sterling.Configured() {
		i.blockIngest(t, sterling.BlockedExecutorError, exec, start)
		return nil
	}

	var result *sterling.ExpandResult
	for attempt := 1; attempt <= ingestMaxAttempts; attempt++ {
		res, err := i.sterling.ExpandByDigest(ctx, meta.CommittedIRDigest)
		if err != nil {
			log.Warn("expand %s failed: %v", meta.CommittedIRDigest, err)
			i.blockIngest(t, sterling.BlockedExecutorError, exec, start)
			return nil
		}
		if res.Status == sterling.StatusOK {
			result = res
			break
		}
		if res.Reason != sterling.BlockedDigestUnknown || attempt == ingestMaxAttempts {
			i.blockIngest(t, res.Reason, exec, start)
			return nil
		}

		delay := ingestBaseDelay << (attempt - 1)
		exec.IngestRetryCount++
		exec.ScheduledDelayMs += delay.Milliseconds()
		log.Info("digest %s unknown, retry %d in %s", meta.CommittedIRDigest, exec.IngestRetryCount, delay)
		i.sleep(delay)
	}

	exec.ExpansionDigest = result.ExpansionDigest
	exec.ElapsedMs = i.now().Sub(start).Milliseconds()
	if meta.SchemaVersion == "" {
		meta.SchemaVersion = result.SchemaVersion
	}

	t.Steps = materializeSteps(result.Steps, i.leaves)

	i.resolveIntents(ctx, t, exec)

	// The executor plan digest is always computed from the final steps, even
	// when resolution left intents in place. Absence never means "same as the
	// expansion digest".
	exec.ExecutorPlanDigest = stepsDigest(t.Steps)
	return nil
}

func (i *Integration) blockIngest(t *task.Task, reason string, exec *task.SterlingExec, start time.Time) {
	exec.ElapsedMs = i.now().Sub(start).Milliseconds()
	t.Status = task.StatusPendingPlanning
	t.Metadata.BlockedReason = reason
	logging.Get(logging.CategorySterling).Warn("ingest blocked for %s: %s (retries=%d)",
		t.ID, reason, exec.IngestRetryCount)
}

// resolveIntents resolves task_type_ placeholder leaves through Sterling and
// splices the replacements into the step list. All failure modes are closed:
// the task blocks rather than dispatching a placeholder.
func (i *Integration) resolveIntents(ctx context.Context, t *task.Task, exec *task.SterlingExec) {
	intentIdx := intentIndices(t.Steps)
	if len(intentIdx) == 0 {
		exec.AllIntentsResolved = true
		return
	}

	if !i.cfg.Sterling.IntentResolve {
		t.Status = task.StatusPendingPlanning
		t.Metadata.BlockedReason = BlockedIntentResolutionDisabled
		return
	}
	if i.sterling == nil || !i.sterling.Configured() || i.leaves == nil {
		t.Status = task.StatusPendingPlanning
		t.Metadata.BlockedReason = BlockedIntentResolutionUnavailable
		t.Metadata.NextEligibleAt = i.now().Add(intentUnavailableBackoff)
		return
	}

	req := sterling.ResolveRequest{
		Digest: t.Metadata.Sterling.CommittedIRDigest,
		Steps:  stepsToWire(t.Steps),
	}
	res, err := i.sterling.ResolveIntentSteps(ctx, req)
	if err != nil {
		logging.Get(logging.CategorySterling).Warn("intent resolution for %s failed: %v", t.ID, err)
		t.Status = task.StatusPendingPlanning
		t.Metadata.BlockedReason = BlockedIntentResolutionUnavailable
		t.Metadata.NextEligibleAt = i.now().Add(intentUnavailableBackoff)
		return
	}

	var undispatchable []string
	for _, rep := range res.Replacements {
		for _, s := range rep.Steps {
			if IsIntentLeaf(s.Leaf) || !i.leaves.Known(s.Leaf) {
				undispatchable = append(undispatchable, s.Leaf)
				continue
			}
			if err := i.leaves.ValidateArgs(s.Leaf, s.Args); err != nil {
				undispatchable = append(undispatchable, s.Leaf)
			}
		}
	}
	if len(undispatchable) > 0 {
		t.Status = task.StatusPendingPlanning
		t.Metadata.BlockedReason = BlockedUndispatchableSteps
		exec.UndispatchableLeaves = undispatchable
		return
	}

	if len(res.Replacements) > 0 {
		exec.ResolvedOnlyDigest = replacementsDigest(res.Replacements)
	}

	t.Steps = spliceIntentSteps(t.Steps, res.Replacements, i.leaves)

	if remaining := intentIndices(t.Steps); len(remaining) > 0 {
		exec.AllIntentsResolved = false
		t.Status = task.StatusPendingPlanning
		t.Metadata.BlockedReason = BlockedUnresolvedIntents
		return
	}
	exec.AllIntentsResolved = true
}

// spliceIntentSteps substitutes each intent step by its resolved step list,
// walking the original in order. intent_step_index counts intent leaves, not
// absolute positions. The first replacement wins on a duplicate index;
// unresolved intents stay in place; non-intent steps pass through.
func spliceIntentSteps(original []*task.Step, replacements []sterling.IntentReplacement, leaves LeafRegistry) []*task.Step {
	byIndex := make(map[int][]sterling.ExpandedStep, len(replacements))
	for _, rep := range replacements {
		if _, taken := byIndex[rep.IntentStepIndex]; taken {
			continue
		}
		byIndex[rep.IntentStepIndex] = rep.Steps
	}

	var out []*task.Step
	intentOrdinal := 0
	for _, step := range original {
		if !IsIntentLeaf(step.Meta.Leaf) {
			out = append(out, step)
			continue
		}
		resolved, ok := byIndex[intentOrdinal]
		intentOrdinal++
		if !ok {
			out = append(out, step)
			continue
		}
		out = append(out, materializeSteps(resolved, leaves)...)
	}

	for order, step := range out {
		step.Order = order
	}
	return out
}

func intentIndices(steps []*task.Step) []int {
	var idx []int
	for n, s := range steps {
		if IsIntentLeaf(s.Meta.Leaf) {
			idx = append(idx, n)
		}
	}
	return idx
}

func materializeSteps(wire []sterling.ExpandedStep, leaves LeafRegistry) []*task.Step {
	out := make([]*task.Step, len(wire))
	for idx, ws := range wire {
		label := ws.Label
		if label == "" {
			label = ws.Leaf
		}
		out[idx] = &task.Step{
			ID:    uuid.New().String(),
			Label: label,
			Order: idx,
			Meta: task.StepMeta{
				Leaf:       ws.Leaf,
				Args:       ws.Args,
				Executable: leaves != nil && leaves.Known(ws.Leaf),
			},
		}
	}
	return out
}

func stepsToWire(steps []*task.Step) []sterling.ExpandedStep {
	out := make([]sterling.ExpandedStep, len(steps))
	for idx, s := range steps {
		out[idx] = sterling.ExpandedStep{Leaf: s.Meta.Leaf, Label: s.Label, Args: s.Meta.Args}
	}
	return out
}

// stepsDigest hashes the canonical form of the step list. Step ids are
// excluded so the digest is stable across materializations of the same plan.
func stepsDigest(steps []*task.Step) string {
	plain := make([]any, len(steps))
	for idx, s := range steps {
		entry := map[string]any{"leaf": s.Meta.Leaf, "label": s.Label}
		if s.Meta.Args != nil {
			entry["args"] = s.Meta.Args
		}
		plain[idx] = entry
	}
	canonical, ok := protocol.CanonicalizeIntentParams(plain)
	if !ok {
		canonical = fmt.Sprintf("unserializable:%d", len(steps))
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func replacementsDigest(replacements []sterling.IntentReplacement) string {
	var steps []*task.Step
	for _, rep := range replacements {
		steps = append(steps, materializeSteps(rep.Steps, nil)...)
	}
	return stepsDigest(steps)
}
