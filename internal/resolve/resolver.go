// Package resolve maps a task to a gateway-ready action. Resolution walks a
// fixed precedence of sources per domain and fails deterministically when
// none of them yields usable arguments: a task that cannot be resolved today
// will not resolve tomorrow either, so these failures skip retry backoff.
package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"blockmind/internal/task"
)

// Action is a gateway-ready action request.
type Action struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters"`
	TimeoutMs  int64          `json:"timeoutMs,omitempty"`
}

// Source identifies which precedence source produced the action.
type Source string

const (
	FromLegacy               Source = "legacy"
	FromRequirementCandidate Source = "requirementCandidate"
	FromStepMetaArgs         Source = "stepMetaArgs"
	FromInferred             Source = "inferred"
)

// Failure categories.
const (
	CategoryMappingMissing   = "mapping_missing"
	CategoryMappingInvalid   = "mapping_invalid"
	CategoryMappingAmbiguous = "mapping_ambiguous"
)

// Failure is a deterministic resolution failure.
type Failure struct {
	Category    string   `json:"category"`
	Reason      string   `json:"reason"`
	FailureCode string   `json:"failureCode"`
	Retryable   bool     `json:"retryable"` // always false
	Evidence    []string `json:"evidence"`
}

// Resolution is the outcome of resolving a task.
type Resolution struct {
	OK           bool     `json:"ok"`
	Action       *Action  `json:"action,omitempty"`
	ResolvedFrom Source   `json:"resolvedFrom,omitempty"`
	Evidence     []string `json:"evidence"`
	Failure      *Failure `json:"failure,omitempty"`
}

// placeholderValues are literal values that look like arguments but are
// template residue; they are rejected at the legacy source and fall through.
var placeholderValues = map[string]bool{"item": true}

var (
	craftTitleRe   = regexp.MustCompile(`(?i)\bcraft(?:ing)?\s+(?:an?\s+|the\s+)?([\w\s]+)`)
	mineTitleRe    = regexp.MustCompile(`(?i)\bmine\s+(?:an?\s+|the\s+|some\s+)?([\w\s]+)`)
	gatherTitleRe  = regexp.MustCompile(`(?i)\b(?:gather|collect|acquire)\s+(?:an?\s+|the\s+|some\s+)?([\w\s]+)`)
	navTitleRe     = regexp.MustCompile(`(?i)\b(?:navigate|go|travel|walk)\s+to\s+(?:the\s+)?([\w\s,-]+)`)
	buildTitleRe   = regexp.MustCompile(`(?i)\bbuild(?:ing)?\s+(?:an?\s+|the\s+)?([\w\s]+)`)
	moveTitleRe    = regexp.MustCompile(`(?i)\bmove\s+(forward|back|backward|left|right)\b`)
)

// Resolve extracts the action for a task, or a deterministic failure.
func Resolve(t *task.Task) Resolution {
	r := &resolver{task: t}

	switch t.Type {
	case task.TypeCrafting:
		return r.resolveCraft()
	case task.TypeMining:
		return r.resolveMine()
	case task.TypeGathering:
		return r.resolveGather()
	case task.TypeNavigation:
		return r.resolveNavigate()
	case task.TypeBuilding:
		return r.resolveBuild()
	case task.TypeExploration:
		return r.resolveExplore()
	case task.TypeGeneral, task.TypeAdvisoryAction, task.TypeSterlingIR:
		return r.resolveGeneral()
	default:
		return r.fail(CategoryMappingInvalid,
			fmt.Sprintf("no action mapping for task type %q", t.Type),
			fmt.Sprintf("mapping_invalid:unknown_type:%s", t.Type))
	}
}

type resolver struct {
	task     *task.Task
	evidence []string
}

func (r *resolver) note(format string, args ...any) {
	r.evidence = append(r.evidence, fmt.Sprintf(format, args...))
}

// param reads a string from task.parameters, rejecting placeholder residue.
func (r *resolver) param(keys ...string) string {
	for _, k := range keys {
		v, ok := r.task.Parameters[k]
		if !ok {
			r.note("legacy:%s=absent", k)
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			r.note("legacy:%s=non-string", k)
			continue
		}
		if placeholderValues[s] {
			r.note("legacy:%s=placeholder(%q)", k, s)
			continue
		}
		r.note("legacy:%s=%q", k, s)
		return s
	}
	return ""
}

// candidate reads requirementCandidate.outputPattern.
func (r *resolver) candidate() (string, float64) {
	rc, ok := r.task.Parameters["requirementCandidate"].(map[string]any)
	if !ok {
		r.note("requirementCandidate=absent")
		return "", 0
	}
	out, _ := rc["outputPattern"].(string)
	if out == "" || placeholderValues[out] {
		r.note("requirementCandidate:outputPattern=unusable")
		return "", 0
	}
	qty := numberOr(rc["quantity"], 1)
	r.note("requirementCandidate:outputPattern=%q", out)
	return out, qty
}

// stepArg reads a domain key from the first step's meta args.
func (r *resolver) stepArg(keys ...string) string {
	if len(r.task.Steps) == 0 {
		r.note("stepMetaArgs=no-steps")
		return ""
	}
	args := r.task.Steps[0].Meta.Args
	if args == nil {
		r.note("stepMetaArgs=no-args")
		return ""
	}
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" && !placeholderValues[s] {
			r.note("stepMetaArgs:%s=%q", k, s)
			return s
		}
		r.note("stepMetaArgs:%s=absent", k)
	}
	return ""
}

// inferTitle extracts and normalizes a target from the task title.
func (r *resolver) inferTitle(re *regexp.Regexp) string {
	m := re.FindStringSubmatch(r.task.Title)
	if m == nil {
		r.note("inferred:title=no-match(%q)", r.task.Title)
		return ""
	}
	target := normalizeItemName(m[1])
	r.note("inferred:title=%q", target)
	return target
}

// normalizeItemName lowercases, converts spaces to underscores, and strips a
// trailing plural 's'.
func normalizeItemName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), "_")
	if strings.HasSuffix(s, "s") && len(s) > 1 && !strings.HasSuffix(s, "ss") {
		s = strings.TrimSuffix(s, "s")
	}
	return s
}

func (r *resolver) resolveCraft() Resolution {
	qty := numberOr(r.task.Parameters["quantity"], 1)
	if item := r.param("item", "recipe"); item != "" {
		return r.ok("craft_item", map[string]any{"item": item, "quantity": int(qty)}, FromLegacy)
	}
	if out, q := r.candidate(); out != "" {
		return r.ok("craft_item", map[string]any{"item": out, "quantity": int(q)}, FromRequirementCandidate)
	}
	if item := r.stepArg("item", "recipe"); item != "" {
		return r.ok("craft_item", map[string]any{"item": item, "quantity": int(qty)}, FromStepMetaArgs)
	}
	if item := r.inferTitle(craftTitleRe); item != "" {
		return r.ok("craft_item", map[string]any{"item": item, "quantity": int(qty)}, FromInferred)
	}
	return r.fail(CategoryMappingMissing, "no craftable item in any source", "mapping_missing:craft:item")
}

func (r *resolver) resolveMine() Resolution {
	if block := r.param("block", "blockType"); block != "" {
		return r.ok("mine_block", map[string]any{"block": block}, FromLegacy)
	}
	if out, _ := r.candidate(); out != "" {
		return r.ok("mine_block", map[string]any{"block": out}, FromRequirementCandidate)
	}
	if block := r.stepArg("block", "blockType"); block != "" {
		return r.ok("mine_block", map[string]any{"block": block}, FromStepMetaArgs)
	}
	if block := r.inferTitle(mineTitleRe); block != "" {
		return r.ok("mine_block", map[string]any{"block": block}, FromInferred)
	}
	return r.fail(CategoryMappingMissing, "no minable block in any source", "mapping_missing:mine:block")
}

func (r *resolver) resolveGather() Resolution {
	qty := numberOr(r.task.Parameters["quantity"], 1)
	if res := r.param("resource", "item", "target"); res != "" {
		return r.ok("gather_resource", map[string]any{"resource": res, "quantity": int(qty)}, FromLegacy)
	}
	if out, q := r.candidate(); out != "" {
		return r.ok("gather_resource", map[string]any{"resource": out, "quantity": int(q)}, FromRequirementCandidate)
	}
	if res := r.stepArg("resource", "item", "target"); res != "" {
		return r.ok("gather_resource", map[string]any{"resource": res, "quantity": int(qty)}, FromStepMetaArgs)
	}
	if res := r.inferTitle(gatherTitleRe); res != "" {
		return r.ok("gather_resource", map[string]any{"resource": res, "quantity": int(qty)}, FromInferred)
	}
	return r.fail(CategoryMappingMissing, "no gatherable resource in any source", "mapping_missing:gather:resource")
}

func (r *resolver) resolveNavigate() Resolution {
	if tgt := r.navTarget(); tgt != nil {
		return r.ok("navigate_to", map[string]any{"target": tgt}, FromLegacy)
	}
	if tgt := r.stepArg("target", "destination"); tgt != "" {
		return r.ok("navigate_to", map[string]any{"target": tgt}, FromStepMetaArgs)
	}
	if tgt := r.inferTitle(navTitleRe); tgt != "" {
		return r.ok("navigate_to", map[string]any{"target": tgt}, FromInferred)
	}
	if m := moveTitleRe.FindStringSubmatch(r.task.Title); m != nil {
		// Straight-line moves are permissive
		r.note("inferred:move=%q", m[1])
		return r.ok("move_forward", map[string]any{
			"direction": strings.ToLower(m[1]),
			"distance":  numberOr(r.task.Parameters["distance"], 1),
		}, FromInferred)
	}
	return r.fail(CategoryMappingMissing, "no navigation target in any source", "mapping_missing:navigate:target")
}

// navTarget accepts a string target or a structured position from the legacy
// parameter fields.
func (r *resolver) navTarget() any {
	for _, k := range []string{"target", "position", "destination"} {
		v, ok := r.task.Parameters[k]
		if !ok {
			r.note("legacy:%s=absent", k)
			continue
		}
		switch tv := v.(type) {
		case string:
			if tv != "" && !placeholderValues[tv] {
				r.note("legacy:%s=%q", k, tv)
				return tv
			}
		case map[string]any:
			r.note("legacy:%s=position", k)
			return tv
		}
	}
	return nil
}

func (r *resolver) resolveBuild() Resolution {
	if st := r.param("structure", "blueprint", "block"); st != "" {
		return r.ok("place_block", map[string]any{"structure": st}, FromLegacy)
	}
	if out, _ := r.candidate(); out != "" {
		return r.ok("place_block", map[string]any{"structure": out}, FromRequirementCandidate)
	}
	if st := r.stepArg("structure", "blueprint", "block"); st != "" {
		return r.ok("place_block", map[string]any{"structure": st}, FromStepMetaArgs)
	}
	if st := r.inferTitle(buildTitleRe); st != "" {
		return r.ok("place_block", map[string]any{"structure": st}, FromInferred)
	}
	return r.fail(CategoryMappingMissing, "no structure in any source", "mapping_missing:build:structure")
}

// resolveExplore is permissive: exploration always resolves, with defaults
// for any missing argument.
func (r *resolver) resolveExplore() Resolution {
	target := "random"
	if s := r.param("target"); s != "" {
		target = s
	}
	radius := numberOr(r.task.Parameters["radius"], 32)
	r.note("explore:defaults(target=%s,radius=%v)", target, radius)
	return r.ok("explore_area", map[string]any{"target": target, "radius": radius}, FromLegacy)
}

// resolveGeneral tries the first executable step's leaf, then title inference
// across all domains.
func (r *resolver) resolveGeneral() Resolution {
	if step := r.task.FirstPendingStep(); step != nil && step.Meta.Leaf != "" && !strings.HasPrefix(step.Meta.Leaf, "task_type_") {
		r.note("stepMetaArgs:leaf=%q", step.Meta.Leaf)
		params := step.Meta.Args
		if params == nil {
			params = map[string]any{}
		}
		return r.ok(step.Meta.Leaf, params, FromStepMetaArgs)
	}

	if item := r.inferTitle(craftTitleRe); item != "" {
		return r.ok("craft_item", map[string]any{"item": item, "quantity": 1}, FromInferred)
	}
	if block := r.inferTitle(mineTitleRe); block != "" {
		return r.ok("mine_block", map[string]any{"block": block}, FromInferred)
	}
	if res := r.inferTitle(gatherTitleRe); res != "" {
		return r.ok("gather_resource", map[string]any{"resource": res, "quantity": 1}, FromInferred)
	}
	if m := moveTitleRe.FindStringSubmatch(r.task.Title); m != nil {
		r.note("inferred:move=%q", m[1])
		return r.ok("move_forward", map[string]any{"direction": strings.ToLower(m[1]), "distance": 1}, FromInferred)
	}
	return r.fail(CategoryMappingMissing, "no action derivable from steps or title", "mapping_missing:general:action")
}

func (r *resolver) ok(actionType string, params map[string]any, from Source) Resolution {
	a := &Action{Type: actionType, Parameters: params}
	if ms := numberOr(r.task.Parameters["timeoutMs"], 0); ms > 0 {
		a.TimeoutMs = int64(ms)
	}
	return Resolution{OK: true, Action: a, ResolvedFrom: from, Evidence: r.evidence}
}

func (r *resolver) fail(category, reason, code string) Resolution {
	return Resolution{
		OK:       false,
		Evidence: r.evidence,
		Failure: &Failure{
			Category:    category,
			Reason:      reason,
			FailureCode: code,
			Retryable:   false,
			Evidence:    r.evidence,
		},
	}
}

func numberOr(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}
