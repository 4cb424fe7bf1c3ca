// Package solver defines the domain-solver reporting surface. The solvers
// themselves (crafting, building, mining, navigation) are external services;
// this package only carries the episode-result linkage the integration layer
// reports to them on terminal task transitions.
package solver

import (
	"context"
	"sync"

	"blockmind/internal/logging"
	"blockmind/internal/task"
)

// Outcome classes reported to domain solvers.
const (
	OutcomeExecutionSuccess = "EXECUTION_SUCCESS"
	OutcomeExecutionFailure = "EXECUTION_FAILURE"
)

// EpisodeResult links an executed episode back to the plan that produced it.
// BundleHash and TraceBundleHash are present only when the join keys were
// coherent at reporting time.
type EpisodeResult struct {
	TaskID          string `json:"taskId"`
	PlanID          string `json:"planId"`
	OutcomeClass    string `json:"outcomeClass"`
	BundleHash      string `json:"bundleHash,omitempty"`
	TraceBundleHash string `json:"traceBundleHash,omitempty"`
	FailureCode     string `json:"failureCode,omitempty"`
}

// EpisodeReporter receives episode results for one solver domain.
type EpisodeReporter interface {
	ReportEpisodeResult(ctx context.Context, result EpisodeResult) error
}

// Registry maps task types to their domain reporter.
type Registry struct {
	mu        sync.RWMutex
	reporters map[task.Type]EpisodeReporter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{reporters: make(map[task.Type]EpisodeReporter)}
}

// Register installs the reporter for a task type, replacing any prior one.
func (r *Registry) Register(t task.Type, rep EpisodeReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporters[t] = rep
}

// For returns the reporter for a task type, or nil.
func (r *Registry) For(t task.Type) EpisodeReporter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reporters[t]
}

// Report delivers a result to the reporter registered for the task type.
// Missing reporters are a debug-level non-event.
func (r *Registry) Report(ctx context.Context, t task.Type, result EpisodeResult) error {
	rep := r.For(t)
	if rep == nil {
		logging.Get(logging.CategorySolver).Debug("no episode reporter for type %s; dropping result for task %s", t, result.TaskID)
		return nil
	}
	return rep.ReportEpisodeResult(ctx, result)
}
