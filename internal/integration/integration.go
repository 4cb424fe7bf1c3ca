// Package integration is the coordination layer of the planning core. It
// finalizes new tasks, owns the status and metadata mutators that re-enter the
// goal-binding protocol, runs the feasibility gate on step start, routes
// Sterling IR expansion, and reports episode results to domain solvers.
package integration

import (
	"context"
	"errors"
	"sync"
	"time"

	"blockmind/internal/config"
	"blockmind/internal/protocol"
	"blockmind/internal/solver"
	"blockmind/internal/sterling"
	"blockmind/internal/task"
)

// SterlingExecutor is the slice of the Sterling client the ingest path needs.
type SterlingExecutor interface {
	Configured() bool
	ExpandByDigest(ctx context.Context, digest string) (*sterling.ExpandResult, error)
	ResolveIntentSteps(ctx context.Context, req sterling.ResolveRequest) (*sterling.ResolveResult, error)
}

// MacroPlanner is the hierarchical planner collaborator. Navigation and
// exploration tasks block on a sentinel when no planner is configured.
type MacroPlanner interface {
	ContextFromRequirement(requirement map[string]any) (map[string]any, error)
	PlanMacroPath(ctx context.Context, planCtx map[string]any) ([]task.Step, error)
}

// Planner failure reasons surfaced as blocked reasons.
var (
	ErrNoPlanFound = errors.New("rig_e_no_plan_found")
	ErrOntologyGap = errors.New("rig_e_ontology_gap")
)

// LeafRegistry validates executable leaves. Used to vet intent-resolution
// replacements and as the default executor allowlist.
type LeafRegistry interface {
	Known(leaf string) bool
	ValidateArgs(leaf string, args map[string]any) error
}

// GoalStatusSink receives goal-level status updates produced by the protocol
// reducer. Nil sinks drop updates.
type GoalStatusSink interface {
	UpdateGoalStatus(goalID, status, reason string) error
}

// Integration wires the planning core together. All collaborators are
// injected; nil collaborators degrade to their fail-closed behavior.
type Integration struct {
	store    *task.Store
	cfg      *config.Config
	sterling SterlingExecutor
	planner  MacroPlanner
	leaves   LeafRegistry
	solvers  *solver.Registry
	goals    GoalStatusSink
	Events   *Emitter

	// Injected time/sleep for deterministic tests.
	now   func() time.Time
	sleep func(time.Duration)

	// Debounced replan timers keyed by task id.
	replanMu     sync.Mutex
	replanTimers map[string]*time.Timer
}

// Options carries the collaborator set for New.
type Options struct {
	Store    *task.Store
	Config   *config.Config
	Sterling SterlingExecutor
	Planner  MacroPlanner
	Leaves   LeafRegistry
	Solvers  *solver.Registry
	Goals    GoalStatusSink
}

// New builds an Integration. Store and Config are required.
func New(opts Options) *Integration {
	i := &Integration{
		store:        opts.Store,
		cfg:          opts.Config,
		sterling:     opts.Sterling,
		planner:      opts.Planner,
		leaves:       opts.Leaves,
		solvers:      opts.Solvers,
		goals:        opts.Goals,
		Events:       &Emitter{},
		now:          time.Now,
		sleep:        time.Sleep,
		replanTimers: make(map[string]*time.Timer),
	}
	if i.leaves == nil {
		i.leaves = DefaultLeafRegistry()
	}
	return i
}

// Store exposes the underlying task store for read paths.
func (i *Integration) Store() *task.Store { return i.store }

// Close cancels any pending replan timers.
func (i *Integration) Close() {
	i.replanMu.Lock()
	defer i.replanMu.Unlock()
	for id, timer := range i.replanTimers {
		timer.Stop()
		delete(i.replanTimers, id)
	}
}

// protocolDeps is the effect-applier surface: cross-task status effects
// re-enter UpdateTaskStatus with protocol origin so reducer hooks do not
// recurse.
func (i *Integration) protocolDeps() protocol.Deps {
	return protocol.Deps{
		GetTask: i.store.Get,
		SetTask: func(t *task.Task, opts task.SetOptions) { i.store.Set(t, opts) },
		UpdateTaskStatus: func(id string, status task.Status, reason string) error {
			return i.UpdateTaskStatus(id, status, StatusOptions{Origin: OriginProtocol, Reason: reason})
		},
		UpdateGoalStatus: func(goalID, status, reason string) error {
			if i.goals == nil {
				return nil
			}
			return i.goals.UpdateGoalStatus(goalID, status, reason)
		},
	}
}

func (i *Integration) emitLifecycle(lifecycleType, taskID string, payload map[string]any) {
	i.Events.Emit(Event{
		Type:          "taskLifecycleEvent",
		LifecycleType: lifecycleType,
		TaskID:        taskID,
		Payload:       payload,
		At:            i.now(),
	})
}
