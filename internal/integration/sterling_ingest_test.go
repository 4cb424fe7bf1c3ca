package integration

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmind/internal/sterling"
	"blockmind/internal/task"
)

func sterlingPartial(digest string) *task.Task {
	return &task.Task{
		Title: "sterling plan", Type: task.TypeSterlingIR, Source: task.SourcePlanner,
		Metadata: task.Metadata{Sterling: &task.SterlingMeta{CommittedIRDigest: digest}},
	}
}

func leafNames(steps []*task.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Meta.Leaf
	}
	return out
}

func TestIngest_ExpandOK(t *testing.T) {
	fake := &fakeSterling{
		configured: true,
		expandResults: []*sterling.ExpandResult{{
			Status:          sterling.StatusOK,
			ExpansionDigest: "exp-1",
			Steps: []sterling.ExpandedStep{
				{Leaf: "gather_nearby"},
				{Leaf: "place_block"},
			},
		}},
	}
	i, _ := newTestIntegration(t, Options{Sterling: fake})

	added, err := i.AddTask(context.Background(), sterlingPartial("digest-1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"gather_nearby", "place_block"}, leafNames(added.Steps))
	exec := added.Metadata.Sterling.Exec
	require.NotNil(t, exec)
	assert.Equal(t, "ingest", exec.ExpansionMode)
	assert.Equal(t, "exp-1", exec.ExpansionDigest)
	assert.True(t, exec.AllIntentsResolved)
	assert.NotEmpty(t, exec.ExecutorPlanDigest)
	assert.Empty(t, added.Metadata.BlockedReason)
}

func TestIngest_DigestUnknownRetriesBounded(t *testing.T) {
	blocked := &sterling.ExpandResult{Status: sterling.StatusBlocked, Reason: sterling.BlockedDigestUnknown}
	fake := &fakeSterling{
		configured:    true,
		expandResults: []*sterling.ExpandResult{blocked, blocked, blocked, blocked},
	}
	i, _ := newTestIntegration(t, Options{Sterling: fake})

	added, err := i.AddTask(context.Background(), sterlingPartial("digest-x"))
	require.NoError(t, err)

	assert.Equal(t, 3, fake.expandCalls, "two retries, three attempts total")
	assert.Equal(t, task.StatusPendingPlanning, added.Status)
	assert.Equal(t, sterling.BlockedDigestUnknown, added.Metadata.BlockedReason)
	assert.Equal(t, 2, added.Metadata.Sterling.Exec.IngestRetryCount)
	assert.Greater(t, added.Metadata.Sterling.Exec.ScheduledDelayMs, int64(0))
}

func TestIngest_DigestUnknownThenOK(t *testing.T) {
	fake := &fakeSterling{
		configured: true,
		expandResults: []*sterling.ExpandResult{
			{Status: sterling.StatusBlocked, Reason: sterling.BlockedDigestUnknown},
			{Status: sterling.StatusOK, ExpansionDigest: "exp-2", Steps: []sterling.ExpandedStep{{Leaf: "wait"}}},
		},
	}
	i, _ := newTestIntegration(t, Options{Sterling: fake})

	added, err := i.AddTask(context.Background(), sterlingPartial("digest-y"))
	require.NoError(t, err)

	assert.Equal(t, 2, fake.expandCalls)
	assert.Empty(t, added.Metadata.BlockedReason)
	assert.Equal(t, 1, added.Metadata.Sterling.Exec.IngestRetryCount)
}

func TestIngest_NonDigestBlockIsImmediate(t *testing.T) {
	fake := &fakeSterling{
		configured: true,
		expandResults: []*sterling.ExpandResult{
			{Status: sterling.StatusBlocked, Reason: sterling.BlockedExecutorError},
		},
	}
	i, _ := newTestIntegration(t, Options{Sterling: fake})

	added, err := i.AddTask(context.Background(), sterlingPartial("digest-z"))
	require.NoError(t, err)

	assert.Equal(t, 1, fake.expandCalls, "no retry on non-digest blocks")
	assert.Equal(t, sterling.BlockedExecutorError, added.Metadata.BlockedReason)
}

func TestIngest_MissingDigestIsRejected(t *testing.T) {
	i, _ := newTestIntegration(t, Options{Sterling: &fakeSterling{configured: true}})
	_, err := i.AddTask(context.Background(), &task.Task{
		Title: "no digest", Type: task.TypeSterlingIR, Source: task.SourcePlanner,
		Metadata: task.Metadata{Sterling: &task.SterlingMeta{}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), BlockedMissingSterlingDigest)
}

func TestIngest_DigestDedup(t *testing.T) {
	fake := &fakeSterling{
		configured: true,
		expandResults: []*sterling.ExpandResult{{
			Status: sterling.StatusOK, Steps: []sterling.ExpandedStep{{Leaf: "wait"}},
		}},
	}
	i, _ := newTestIntegration(t, Options{Sterling: fake})

	first, err := i.AddTask(context.Background(), sterlingPartial("digest-dup"))
	require.NoError(t, err)
	second, err := i.AddTask(context.Background(), sterlingPartial("digest-dup"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func expansionWithIntents() []*sterling.ExpandResult {
	return []*sterling.ExpandResult{{
		Status:          sterling.StatusOK,
		ExpansionDigest: "exp-digest",
		Steps: []sterling.ExpandedStep{
			{Leaf: "gather_nearby"},
			{Leaf: "task_type_craft", Args: map[string]any{"goal": "CRAFT"}},
			{Leaf: "navigate_to", Args: map[string]any{"target": "home"}},
			{Leaf: "task_type_mine", Args: map[string]any{"goal": "MINE"}},
			{Leaf: "place_block"},
		},
	}}
}

func TestIngest_PartialIntentSplice(t *testing.T) {
	fake := &fakeSterling{
		configured:    true,
		expandResults: expansionWithIntents(),
		resolveResult: &sterling.ResolveResult{
			Status: sterling.StatusOK,
			Replacements: []sterling.IntentReplacement{{
				IntentStepIndex: 0,
				Steps: []sterling.ExpandedStep{
					{Leaf: "craft_recipe", Args: map[string]any{"recipe": "oak_planks", "count": 4}},
					{Leaf: "craft_recipe", Args: map[string]any{"recipe": "sticks", "count": 4}},
				},
			}},
		},
	}
	i, _ := newTestIntegration(t, Options{Sterling: fake})

	added, err := i.AddTask(context.Background(), sterlingPartial("digest-splice"))
	require.NoError(t, err)

	want := []string{
		"gather_nearby", "craft_recipe", "craft_recipe", "navigate_to", "task_type_mine", "place_block",
	}
	if diff := cmp.Diff(want, leafNames(added.Steps)); diff != "" {
		t.Errorf("spliced leaves mismatch (-want +got):\n%s", diff)
	}

	exec := added.Metadata.Sterling.Exec
	assert.False(t, exec.AllIntentsResolved)
	assert.Equal(t, BlockedUnresolvedIntents, added.Metadata.BlockedReason)
	assert.NotEmpty(t, exec.ExecutorPlanDigest)
	assert.NotEqual(t, exec.ExpansionDigest, exec.ExecutorPlanDigest)
	assert.NotEqual(t, exec.ResolvedOnlyDigest, exec.ExecutorPlanDigest)
}

func TestIngest_DuplicateReplacementFirstWins(t *testing.T) {
	fake := &fakeSterling{
		configured:    true,
		expandResults: expansionWithIntents(),
		resolveResult: &sterling.ResolveResult{
			Status: sterling.StatusOK,
			Replacements: []sterling.IntentReplacement{
				{IntentStepIndex: 0, Steps: []sterling.ExpandedStep{{Leaf: "craft_recipe", Args: map[string]any{"recipe": "first"}}}},
				{IntentStepIndex: 0, Steps: []sterling.ExpandedStep{{Leaf: "craft_recipe", Args: map[string]any{"recipe": "second"}}}},
				{IntentStepIndex: 1, Steps: []sterling.ExpandedStep{{Leaf: "mine_block", Args: map[string]any{"block": "iron_ore"}}}},
			},
		},
	}
	i, _ := newTestIntegration(t, Options{Sterling: fake})

	added, err := i.AddTask(context.Background(), sterlingPartial("digest-firstwins"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"gather_nearby", "craft_recipe", "navigate_to", "mine_block", "place_block",
	}, leafNames(added.Steps))
	assert.Equal(t, "first", added.Steps[1].Meta.Args["recipe"])
	assert.True(t, added.Metadata.Sterling.Exec.AllIntentsResolved)
	assert.Empty(t, added.Metadata.BlockedReason)
}

func TestIngest_ExecutorPlanDigestIsStable(t *testing.T) {
	steps := []*task.Step{
		{Label: "a", Meta: task.StepMeta{Leaf: "gather_nearby"}},
		{Label: "b", Meta: task.StepMeta{Leaf: "craft_recipe", Args: map[string]any{"recipe": "sticks", "count": 4}}},
	}
	again := []*task.Step{
		{Label: "a", Meta: task.StepMeta{Leaf: "gather_nearby"}},
		{Label: "b", Meta: task.StepMeta{Leaf: "craft_recipe", Args: map[string]any{"count": 4, "recipe": "sticks"}}},
	}
	assert.Equal(t, stepsDigest(steps), stepsDigest(again), "digest ignores arg key order")
	assert.Len(t, stepsDigest(steps), 64)
}

func TestIngest_IntentResolutionDisabled(t *testing.T) {
	fake := &fakeSterling{configured: true, expandResults: expansionWithIntents()}
	i, _ := newTestIntegration(t, Options{Sterling: fake})
	i.cfg.Sterling.IntentResolve = false

	added, err := i.AddTask(context.Background(), sterlingPartial("digest-disabled"))
	require.NoError(t, err)

	assert.Equal(t, BlockedIntentResolutionDisabled, added.Metadata.BlockedReason)
	assert.Equal(t, task.StatusPendingPlanning, added.Status)
	assert.Equal(t, 0, fake.resolveCalls)
}

func TestIngest_ResolverUnavailableSetsBackoffFloor(t *testing.T) {
	fake := &fakeSterling{
		configured:    true,
		expandResults: expansionWithIntents(),
		resolveErr:    assert.AnError,
	}
	i, _ := newTestIntegration(t, Options{Sterling: fake})

	added, err := i.AddTask(context.Background(), sterlingPartial("digest-unavail"))
	require.NoError(t, err)

	assert.Equal(t, BlockedIntentResolutionUnavailable, added.Metadata.BlockedReason)
	assert.False(t, added.Metadata.NextEligibleAt.IsZero(), "backoff floor set")
}

func TestIngest_UndispatchableReplacement(t *testing.T) {
	fake := &fakeSterling{
		configured:    true,
		expandResults: expansionWithIntents(),
		resolveResult: &sterling.ResolveResult{
			Status: sterling.StatusOK,
			Replacements: []sterling.IntentReplacement{
				{IntentStepIndex: 0, Steps: []sterling.ExpandedStep{{Leaf: "summon_dragon"}}},
				{IntentStepIndex: 1, Steps: []sterling.ExpandedStep{{Leaf: "craft_recipe"}}},
			},
		},
	}
	i, _ := newTestIntegration(t, Options{Sterling: fake})

	added, err := i.AddTask(context.Background(), sterlingPartial("digest-undisp"))
	require.NoError(t, err)

	assert.Equal(t, BlockedUndispatchableSteps, added.Metadata.BlockedReason)
	exec := added.Metadata.Sterling.Exec
	assert.Contains(t, exec.UndispatchableLeaves, "summon_dragon", "unknown leaf")
	assert.Contains(t, exec.UndispatchableLeaves, "craft_recipe", "missing required arg")
}
