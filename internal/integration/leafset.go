package integration

import (
	"fmt"
	"strings"
)

// leafSpec declares the required args of a known leaf.
type leafSpec struct {
	required []string
}

// standardLeaves is the executable leaf vocabulary of the bot endpoint.
var standardLeaves = map[string]leafSpec{
	"craft_item":      {required: []string{"item"}},
	"craft_recipe":    {required: []string{"recipe"}},
	"mine_block":      {required: []string{"block"}},
	"gather_resource": {required: []string{"resource"}},
	"gather_nearby":   {},
	"navigate_to":     {required: []string{"target"}},
	"move_forward":    {},
	"place_block":     {},
	"dig_down":        {},
	"explore_area":    {},
	"smelt_item":      {required: []string{"item"}},
	"equip_item":      {required: []string{"item"}},
	"attack_entity":   {required: []string{"entity"}},
	"collect_drops":   {},
	"deposit_items":   {},
	"wait":            {},
}

// IntentLeafPrefix marks placeholder leaves that must be resolved before
// dispatch.
const IntentLeafPrefix = "task_type_"

// IsIntentLeaf reports whether a leaf name is an unresolved intent
// placeholder.
func IsIntentLeaf(leaf string) bool {
	return strings.HasPrefix(leaf, IntentLeafPrefix)
}

type standardLeafRegistry struct{}

// DefaultLeafRegistry returns the registry backed by the standard leaf
// vocabulary.
func DefaultLeafRegistry() LeafRegistry { return standardLeafRegistry{} }

func (standardLeafRegistry) Known(leaf string) bool {
	_, ok := standardLeaves[leaf]
	return ok
}

func (standardLeafRegistry) ValidateArgs(leaf string, args map[string]any) error {
	spec, ok := standardLeaves[leaf]
	if !ok {
		return fmt.Errorf("unknown leaf %q", leaf)
	}
	for _, key := range spec.required {
		v, present := args[key]
		if !present || v == nil || v == "" {
			return fmt.Errorf("leaf %s missing required arg %q", leaf, key)
		}
	}
	return nil
}

// KnownLeafNames returns the leaf vocabulary, used as the default executor
// allowlist when config does not narrow it.
func KnownLeafNames() []string {
	names := make([]string, 0, len(standardLeaves))
	for name := range standardLeaves {
		names = append(names, name)
	}
	return names
}
