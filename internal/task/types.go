// Package task defines the task domain model and the in-memory task store.
// The store is the single persistence boundary of the planning core: callers
// mutate the live task object and then commit it with Set.
package task

import (
	"time"
)

// Type is the domain tag of a task.
type Type string

const (
	TypeCrafting       Type = "crafting"
	TypeMining         Type = "mining"
	TypeGathering      Type = "gathering"
	TypeExploration    Type = "exploration"
	TypeNavigation     Type = "navigation"
	TypeBuilding       Type = "building"
	TypeAdvisoryAction Type = "advisory_action"
	TypeSterlingIR     Type = "sterling_ir"
	TypeGeneral        Type = "general"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingPlanning Status = "pending_planning"
	StatusActive          Status = "active"
	StatusInProgress      Status = "in_progress"
	StatusPaused          Status = "paused"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusUnplannable     Status = "unplannable"
)

// IsTerminal reports whether the status is final. Terminal statuses are
// immutable once entered. Unplannable is not terminal: replans and
// management actions can return an unplannable task to service.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Source identifies who created a task.
type Source string

const (
	SourceGoal       Source = "goal"
	SourceAutonomous Source = "autonomous"
	SourceManual     Source = "manual"
	SourcePlanner    Source = "planner"
)

// OriginKind classifies the finalization origin of a task.
type OriginKind string

const (
	OriginAPI          OriginKind = "api"
	OriginCognition    OriginKind = "cognition"
	OriginGoalSource   OriginKind = "goal_source"
	OriginGoalResolver OriginKind = "goal_resolver"
	OriginExecutor     OriginKind = "executor"
)

// Origin records who finalized a task. Stamped exactly once by the
// integration layer; metadata updates never overwrite it.
type Origin struct {
	Kind          OriginKind `json:"kind"`
	Name          string     `json:"name,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ParentTaskID  string     `json:"parentTaskId,omitempty"`
	ParentGoalKey string     `json:"parentGoalKey,omitempty"`
}

// HoldReason explains why a goal-bound task is suspended.
type HoldReason string

const (
	HoldManualPause     HoldReason = "manual_pause"
	HoldPreempted       HoldReason = "preempted"
	HoldWaitingOnPrereq HoldReason = "waiting_on_prereq"
)

// Hold is an enforced suspension on a goal-bound task. A manual_pause hold is
// a hard wall: only an explicit user resume or cancel clears it.
type Hold struct {
	Reason       HoldReason `json:"reason"`
	HeldAt       time.Time  `json:"heldAt"`
	ResumeHints  []string   `json:"resumeHints,omitempty"`
	NextReviewAt time.Time  `json:"nextReviewAt,omitempty"`
}

// Clone returns a deep copy of the hold.
func (h *Hold) Clone() *Hold {
	if h == nil {
		return nil
	}
	c := *h
	if h.ResumeHints != nil {
		c.ResumeHints = append([]string(nil), h.ResumeHints...)
	}
	return &c
}

// GoalBinding associates a task with a higher-level goal instance.
type GoalBinding struct {
	GoalInstanceID string `json:"goalInstanceId"`
	GoalType       string `json:"goalType"`
	ProvisionalKey string `json:"provisionalKey,omitempty"`
	Verifier       string `json:"verifier,omitempty"`
	GoalID         string `json:"goalId,omitempty"`
	Hold           *Hold  `json:"hold,omitempty"`
}

// JoinKeys links an executed episode back to the plan bundle that produced it.
type JoinKeys struct {
	PlanID          string `json:"planId"`
	BundleHash      string `json:"bundleHash,omitempty"`
	TraceBundleHash string `json:"traceBundleHash,omitempty"`
	SolverID        string `json:"solverId,omitempty"`
}

// RigGSignals is the feasibility metadata attached to a plan.
type RigGSignals struct {
	FeasibilityPassed bool     `json:"feasibility_passed"`
	DAGNodeCount      int      `json:"dag_node_count"`
	DAGEdgeCount      int      `json:"dag_edge_count"`
	CommutingPairs    int      `json:"commuting_pairs,omitempty"`
	RejectionKinds    []string `json:"rejection_kinds,omitempty"`
}

// RigG wraps the feasibility signals for a plan.
type RigG struct {
	Signals RigGSignals `json:"signals"`
}

// RigGReplan tracks debounced replan scheduling after a feasibility failure.
type RigGReplan struct {
	Attempts int  `json:"attempts"`
	InFlight bool `json:"inFlight"`
}

// SolveResultSubstrate carries a richer outcome classification from a solver,
// usable only when it coheres with the join keys of the episode.
type SolveResultSubstrate struct {
	PlanID       string `json:"planId"`
	BundleHash   string `json:"bundleHash,omitempty"`
	OutcomeClass string `json:"outcomeClass"`
}

// SolverMeta is the per-domain solver bookkeeping on a task.
type SolverMeta struct {
	// Per-domain plan ids
	CraftingPlanID   string `json:"craftingPlanId,omitempty"`
	BuildingPlanID   string `json:"buildingPlanId,omitempty"`
	MiningPlanID     string `json:"miningPlanId,omitempty"`
	NavigationPlanID string `json:"navigationPlanId,omitempty"`

	JoinKeys *JoinKeys `json:"joinKeys,omitempty"`

	// Deprecated per-domain join keys, honored only under
	// JOIN_KEYS_DEPRECATED_COMPAT and only when JoinKeys is absent.
	DeprecatedJoinKeys map[string]*JoinKeys `json:"deprecatedJoinKeys,omitempty"`

	RigG        *RigG       `json:"rigG,omitempty"`
	RigGChecked bool        `json:"rigGChecked,omitempty"`
	RigGReplan  *RigGReplan `json:"rigGReplan,omitempty"`

	Substrate *SolveResultSubstrate `json:"solveResultSubstrate,omitempty"`

	ReplanCount int `json:"replanCount,omitempty"`

	// Episode hashes persisted after reporting
	EpisodeHashes map[string]string `json:"episodeHashes,omitempty"`
}

// PlanIDForDomain returns the per-domain plan id for the given task type.
func (s *SolverMeta) PlanIDForDomain(taskType Type) string {
	if s == nil {
		return ""
	}
	switch taskType {
	case TypeCrafting:
		return s.CraftingPlanID
	case TypeBuilding:
		return s.BuildingPlanID
	case TypeMining, TypeGathering:
		return s.MiningPlanID
	case TypeNavigation, TypeExploration:
		return s.NavigationPlanID
	default:
		return ""
	}
}

// SterlingExec records how a Sterling IR envelope was expanded into steps.
type SterlingExec struct {
	ExpansionMode        string   `json:"expansionMode,omitempty"` // ingest
	IngestRetryCount     int      `json:"ingestRetryCount,omitempty"`
	ScheduledDelayMs     int64    `json:"scheduledDelayMs,omitempty"`
	ElapsedMs            int64    `json:"elapsedMs,omitempty"`
	ExpansionDigest      string   `json:"expansionDigest,omitempty"`
	ResolvedOnlyDigest   string   `json:"resolvedOnlyDigest,omitempty"`
	ExecutorPlanDigest   string   `json:"executorPlanDigest,omitempty"`
	AllIntentsResolved   bool     `json:"allIntentsResolved,omitempty"`
	UndispatchableLeaves []string `json:"undispatchableLeaves,omitempty"`
}

// SterlingMeta identifies a Sterling IR task.
type SterlingMeta struct {
	CommittedIRDigest string        `json:"committedIrDigest"`
	SchemaVersion     string        `json:"schemaVersion,omitempty"`
	EnvelopeID        string        `json:"envelopeId,omitempty"`
	DedupeNamespace   string        `json:"dedupeNamespace,omitempty"`
	Exec              *SterlingExec `json:"exec,omitempty"`
}

// Provenance records who constructed the task.
type Provenance struct {
	Builder    string `json:"builder"`
	Source     string `json:"source"`
	ActionType string `json:"actionType,omitempty"`
}

// Metadata is the task metadata envelope. Sub-namespaces are typed; unknown
// forward-compatible keys live in Extensions.
type Metadata struct {
	Origin *Origin `json:"origin,omitempty"`

	GoalKey          string       `json:"goalKey,omitempty"`
	SubtaskKey       string       `json:"subtaskKey,omitempty"`
	Provenance       *Provenance  `json:"taskProvenance,omitempty"`
	ReflexInstanceID string       `json:"reflexInstanceId,omitempty"`
	GoalBinding      *GoalBinding `json:"goalBinding,omitempty"`
	Sterling         *SterlingMeta `json:"sterling,omitempty"`
	Solver           *SolverMeta  `json:"solver,omitempty"`

	// BlockedAt is the TTL anchor: set when BlockedReason first appears,
	// preserved on same-reason re-blocks, reset when the reason changes.
	BlockedReason string    `json:"blockedReason,omitempty"`
	BlockedAt     time.Time `json:"blockedAt,omitempty"`

	ParentTaskID string   `json:"parentTaskId,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Category     string   `json:"category,omitempty"`

	Requirement map[string]any `json:"requirement,omitempty"`

	// NextEligibleAt is the retry backoff floor for the executor. RetryCount
	// drives its exponential growth and resets on a successful dispatch.
	NextEligibleAt time.Time `json:"nextEligibleAt,omitempty"`
	RetryCount     int       `json:"retryCount,omitempty"`

	NoStepsReason string `json:"noStepsReason,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	Extensions map[string]any `json:"extensions,omitempty"`
}

// StepMeta carries the executable leaf binding of a step.
type StepMeta struct {
	Leaf       string         `json:"leaf,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Executable bool           `json:"executable,omitempty"`
}

// Step is one ordered unit of work inside a task.
type Step struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Done      bool      `json:"done"`
	Order     int       `json:"order"`
	Meta      StepMeta  `json:"meta"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Task is the central record of the planning core.
type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Type        Type           `json:"type"`
	Status      Status         `json:"status"`
	Source      Source         `json:"source"`
	Priority    float64        `json:"priority"`
	Urgency     float64        `json:"urgency"`
	Progress    float64        `json:"progress"`
	Steps       []*Step        `json:"steps"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Metadata    Metadata       `json:"metadata"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// GoalBound reports whether the task carries a goal binding.
func (t *Task) GoalBound() bool {
	return t.Metadata.GoalBinding != nil
}

// Blocked reports whether the task carries a blocked reason.
func (t *Task) Blocked() bool {
	return t.Metadata.BlockedReason != ""
}

// FirstPendingStep returns the first step that is not done, or nil.
func (t *Task) FirstPendingStep() *Step {
	for _, s := range t.Steps {
		if !s.Done {
			return s
		}
	}
	return nil
}

// StepByID returns the step with the given id, or nil.
func (t *Task) StepByID(id string) *Step {
	for _, s := range t.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// AllStepsDone reports whether every step is done. False for empty step lists.
func (t *Task) AllStepsDone() bool {
	if len(t.Steps) == 0 {
		return false
	}
	for _, s := range t.Steps {
		if !s.Done {
			return false
		}
	}
	return true
}

// Eligible reports whether the executor may pick this task: status must be in
// the active allowlist, no blocked reason, and the backoff floor must have
// passed.
func (t *Task) Eligible(now time.Time) bool {
	if t.Status != StatusActive && t.Status != StatusInProgress {
		return false
	}
	if t.Blocked() {
		return false
	}
	if !t.Metadata.NextEligibleAt.IsZero() && now.Before(t.Metadata.NextEligibleAt) {
		return false
	}
	return true
}
