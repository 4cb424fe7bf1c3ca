package integration

import (
	"sync"
	"time"

	"blockmind/internal/logging"
)

// Event types emitted by the integration layer.
const (
	EventTaskAdded = "taskAdded"

	// taskLifecycleEvent subtypes
	LifecycleHighPriorityAdded          = "high_priority_added"
	LifecycleCompleted                  = "completed"
	LifecycleFailed                     = "failed"
	LifecycleSolverUnavailable          = "solver_unavailable"
	LifecycleRigGReplanNeeded           = "rig_g_replan_needed"
	LifecycleRigGReplanExhausted        = "rig_g_replan_exhausted"
	LifecycleShadowRigGEvaluation       = "shadow_rig_g_evaluation"
	LifecycleGoalBindingDrift           = "goal_binding_drift"
	LifecycleIntentParamsUnserializable = "intent_params_unserializable"
	LifecycleFinalizeInvariantViolation = "task_finalize_invariant_violation"
)

// Event is a lifecycle notification. Type is EventTaskAdded or
// "taskLifecycleEvent" with the subtype in LifecycleType.
type Event struct {
	Type          string         `json:"type"`
	LifecycleType string         `json:"lifecycleType,omitempty"`
	TaskID        string         `json:"taskId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	At            time.Time      `json:"at"`
}

// Emitter fans events out to registered listeners. A panicking listener is
// logged and never breaks emission.
type Emitter struct {
	mu        sync.RWMutex
	listeners []func(Event)
}

// Subscribe registers a listener for all events.
func (e *Emitter) Subscribe(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Emit delivers the event to every listener.
func (e *Emitter) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	e.mu.RLock()
	listeners := make([]func(Event), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Get(logging.CategoryIntegration).Error(
						"event listener panicked on %s/%s: %v", ev.Type, ev.LifecycleType, r)
				}
			}()
			fn(ev)
		}()
	}
}
