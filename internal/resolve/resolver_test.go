package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmind/internal/task"
)

func craftTask(params map[string]any) *task.Task {
	return &task.Task{ID: "t1", Type: task.TypeCrafting, Parameters: params}
}

func TestResolve_LegacyBeatsCandidate(t *testing.T) {
	tk := craftTask(map[string]any{
		"item":     "wooden_pickaxe",
		"quantity": 1,
		"requirementCandidate": map[string]any{
			"outputPattern": "other",
		},
	})

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "craft_item", res.Action.Type)
	assert.Equal(t, "wooden_pickaxe", res.Action.Parameters["item"])
	assert.Equal(t, 1, res.Action.Parameters["quantity"])
	assert.Equal(t, FromLegacy, res.ResolvedFrom)
}

func TestResolve_PlaceholderFallsThrough(t *testing.T) {
	tk := craftTask(map[string]any{
		"item": "item", // literal placeholder
		"requirementCandidate": map[string]any{
			"outputPattern": "oak_planks",
			"quantity":      4,
		},
	})

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "oak_planks", res.Action.Parameters["item"])
	assert.Equal(t, 4, res.Action.Parameters["quantity"])
	assert.Equal(t, FromRequirementCandidate, res.ResolvedFrom)
}

func TestResolve_StepMetaArgs(t *testing.T) {
	tk := craftTask(nil)
	tk.Steps = []*task.Step{
		{ID: "s1", Meta: task.StepMeta{Leaf: "craft_recipe", Args: map[string]any{"item": "sticks"}}},
	}

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "sticks", res.Action.Parameters["item"])
	assert.Equal(t, FromStepMetaArgs, res.ResolvedFrom)
}

func TestResolve_TitleInference(t *testing.T) {
	tk := craftTask(nil)
	tk.Title = "Craft Wooden Pickaxes"

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "wooden_pickaxe", res.Action.Parameters["item"], "lowercase, underscores, plural stripped")
	assert.Equal(t, FromInferred, res.ResolvedFrom)
}

func TestResolve_CraftFailsClosed(t *testing.T) {
	tk := craftTask(nil)
	tk.Title = "do something unclear"

	res := Resolve(tk)
	require.False(t, res.OK)
	require.NotNil(t, res.Failure)
	assert.Equal(t, CategoryMappingMissing, res.Failure.Category)
	assert.Equal(t, "mapping_missing:craft:item", res.Failure.FailureCode)
	assert.False(t, res.Failure.Retryable)
	assert.NotEmpty(t, res.Evidence, "failure carries the evidence trace")
}

func TestResolve_UnknownType(t *testing.T) {
	tk := &task.Task{ID: "t1", Type: task.Type("fishing")}

	res := Resolve(tk)
	require.False(t, res.OK)
	assert.Equal(t, CategoryMappingInvalid, res.Failure.Category)
	assert.Equal(t, "mapping_invalid:unknown_type:fishing", res.Failure.FailureCode)
}

func TestResolve_Mining(t *testing.T) {
	tk := &task.Task{ID: "t1", Type: task.TypeMining, Parameters: map[string]any{"blockType": "iron_ore"}}

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "mine_block", res.Action.Type)
	assert.Equal(t, "iron_ore", res.Action.Parameters["block"])
}

func TestResolve_GatherPrecedence(t *testing.T) {
	tk := &task.Task{
		ID:         "t1",
		Type:       task.TypeGathering,
		Parameters: map[string]any{"resource": "oak_log", "quantity": 8},
	}

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "gather_resource", res.Action.Type)
	assert.Equal(t, "oak_log", res.Action.Parameters["resource"])
	assert.Equal(t, 8, res.Action.Parameters["quantity"])
}

func TestResolve_NavigationStructuredPosition(t *testing.T) {
	pos := map[string]any{"x": float64(10), "y": float64(64), "z": float64(-20)}
	tk := &task.Task{ID: "t1", Type: task.TypeNavigation, Parameters: map[string]any{"position": pos}}

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "navigate_to", res.Action.Type)
	assert.Equal(t, pos, res.Action.Parameters["target"])
}

func TestResolve_NavigationFailsClosed(t *testing.T) {
	tk := &task.Task{ID: "t1", Type: task.TypeNavigation, Title: "wander around"}

	res := Resolve(tk)
	require.False(t, res.OK)
	assert.Equal(t, "mapping_missing:navigate:target", res.Failure.FailureCode)
}

func TestResolve_ExplorationIsPermissive(t *testing.T) {
	tk := &task.Task{ID: "t1", Type: task.TypeExploration}

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "explore_area", res.Action.Type)
	assert.Equal(t, "random", res.Action.Parameters["target"])
	assert.Equal(t, float64(32), res.Action.Parameters["radius"])
}

func TestResolve_MoveDefaults(t *testing.T) {
	tk := &task.Task{ID: "t1", Type: task.TypeNavigation, Title: "Move forward a bit"}

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "move_forward", res.Action.Type)
	assert.Equal(t, float64(1), res.Action.Parameters["distance"])
}

func TestResolve_GeneralUsesStepLeaf(t *testing.T) {
	tk := &task.Task{
		ID:   "t1",
		Type: task.TypeGeneral,
		Steps: []*task.Step{
			{ID: "s1", Done: true, Meta: task.StepMeta{Leaf: "already_done"}},
			{ID: "s2", Meta: task.StepMeta{Leaf: "place_torch", Args: map[string]any{"spacing": 6}}},
		},
	}

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "place_torch", res.Action.Type)
	assert.Equal(t, 6, res.Action.Parameters["spacing"])
}

func TestResolve_GeneralSkipsIntentLeaves(t *testing.T) {
	tk := &task.Task{
		ID:    "t1",
		Type:  task.TypeGeneral,
		Title: "craft sticks",
		Steps: []*task.Step{
			{ID: "s1", Meta: task.StepMeta{Leaf: "task_type_craft"}},
		},
	}

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, "craft_item", res.Action.Type, "intent leaf is not dispatchable; falls to title inference")
	assert.Equal(t, FromInferred, res.ResolvedFrom)
}

func TestResolve_TimeoutCarried(t *testing.T) {
	tk := craftTask(map[string]any{"item": "torch", "timeoutMs": float64(30000)})

	res := Resolve(tk)
	require.True(t, res.OK)
	assert.Equal(t, int64(30000), res.Action.TimeoutMs)
}

func TestNormalizeItemName(t *testing.T) {
	assert.Equal(t, "wooden_pickaxe", normalizeItemName("Wooden Pickaxes"))
	assert.Equal(t, "iron_ore", normalizeItemName("  iron  ore "))
	assert.Equal(t, "glass", normalizeItemName("glass"), "double-s words keep their suffix")
}
