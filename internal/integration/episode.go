package integration

import (
	"context"

	"blockmind/internal/logging"
	"blockmind/internal/solver"
	"blockmind/internal/task"
)

// Expected solver ids per domain. A join-key record naming a different solver
// is a cross-domain mismatch and its hashes are not trusted.
var domainSolverIDs = map[task.Type]string{
	task.TypeCrafting:    "crafting_solver",
	task.TypeBuilding:    "building_solver",
	task.TypeMining:      "mining_solver",
	task.TypeGathering:   "mining_solver",
	task.TypeNavigation:  "navigation_solver",
	task.TypeExploration: "navigation_solver",
}

// Deprecated per-domain join-key fields honored under compat mode. The
// fallback is narrowed to this enumerated set.
var deprecatedJoinKeyFields = map[task.Type]string{
	task.TypeCrafting:   "craftingJoinKeys",
	task.TypeBuilding:   "buildingJoinKeys",
	task.TypeMining:     "miningJoinKeys",
	task.TypeNavigation: "navigationJoinKeys",
}

// reportEpisode links a terminal task back to its domain solver. Bundle
// hashes ride along only when the join keys cohere with the current plan id;
// the outcome class always reports.
func (i *Integration) reportEpisode(ctx context.Context, t *task.Task, status task.Status, failureCode string) {
	log := logging.Get(logging.CategorySolver)

	solverMeta := t.Metadata.Solver
	if solverMeta == nil {
		return
	}
	planID := solverMeta.PlanIDForDomain(t.Type)
	if planID == "" {
		return
	}

	jk := solverMeta.JoinKeys
	if jk == nil && i.cfg.Planning.JoinKeysDeprecatedCompat {
		if field, ok := deprecatedJoinKeyFields[t.Type]; ok {
			if dep := solverMeta.DeprecatedJoinKeys[field]; dep != nil {
				jk = dep
				log.StructuredLog("warn", "deprecated join-key fallback", map[string]interface{}{
					"taskId": t.ID,
					"field":  field,
					"planId": dep.PlanID,
				})
			}
		}
	}

	result := solver.EpisodeResult{
		TaskID: t.ID,
		PlanID: planID,
	}
	if status == task.StatusCompleted {
		result.OutcomeClass = solver.OutcomeExecutionSuccess
	} else {
		result.OutcomeClass = solver.OutcomeExecutionFailure
		result.FailureCode = failureCode
	}

	coherent := jk != nil && jk.PlanID == planID &&
		(jk.SolverID == "" || jk.SolverID == domainSolverIDs[t.Type])
	if coherent {
		result.BundleHash = jk.BundleHash
		result.TraceBundleHash = jk.TraceBundleHash
	} else if jk != nil {
		// Stale keys are routine after replans; anything else deserves a
		// louder look.
		classification := "unexpected join-key mismatch"
		if solverMeta.ReplanCount > 0 && jk.PlanID != planID {
			classification = "stale join keys, expected under replans"
		}
		log.Warn("%s for task %s: joinKeys.planId=%s current=%s solverId=%s; omitting hashes",
			classification, t.ID, jk.PlanID, planID, jk.SolverID)
	}

	// Richer outcome classification only when the substrate provably belongs
	// to this episode.
	if sub := solverMeta.Substrate; sub != nil {
		if coherent && sub.PlanID == planID && sub.BundleHash == jk.BundleHash && sub.OutcomeClass != "" {
			result.OutcomeClass = sub.OutcomeClass
		} else {
			log.Debug("substrate for task %s does not cohere (planId=%s bundleHash=%s); using %s",
				t.ID, sub.PlanID, sub.BundleHash, result.OutcomeClass)
		}
	}

	if i.solvers != nil {
		if err := i.solvers.Report(ctx, t.Type, result); err != nil {
			log.Warn("episode report for %s failed: %v", t.ID, err)
		}
	}

	i.persistEpisodeOutcome(t.ID, planID, result)
}

// persistEpisodeOutcome records the reported episode hash and clears the
// consumed substrate. The latest task is re-read so a concurrent mutation is
// merged rather than overwritten.
func (i *Integration) persistEpisodeOutcome(taskID, planID string, result solver.EpisodeResult) {
	latest := i.store.Get(taskID)
	if latest == nil {
		return
	}
	if latest.Metadata.Solver == nil {
		latest.Metadata.Solver = &task.SolverMeta{}
	}
	sm := latest.Metadata.Solver

	if sm.EpisodeHashes == nil {
		sm.EpisodeHashes = make(map[string]string)
	}
	recorded := result.BundleHash
	if recorded == "" {
		recorded = result.OutcomeClass
	}
	sm.EpisodeHashes[planID] = recorded

	sm.Substrate = nil

	i.store.Set(latest)
}
