package executor

import (
	"math"
	"time"

	"blockmind/internal/bot"
	"blockmind/internal/config"
)

// Decision is the verdict of one guard-pipeline evaluation.
type Decision string

const (
	DecisionBlockUnknownPosition Decision = "block_unknown_position"
	DecisionBlockOutsideGeofence Decision = "block_outside_geofence"
	DecisionBlockUnknownLeaf     Decision = "block_unknown_leaf"
	DecisionShadowObserve        Decision = "shadow_observe"
	DecisionRateLimited          Decision = "rate_limited"
	DecisionAwaitRigG            Decision = "await_rig_g"
)

// Geofence constrains execution to a box around a center point. Distance is
// Chebyshev on X/Z; the optional Y range fails closed when Y is unknown.
type Geofence struct {
	Enabled bool
	CenterX float64
	CenterZ float64
	Radius  float64
	YMin    *float64
	YMax    *float64
}

// GeofenceFromConfig builds a geofence from its config block.
func GeofenceFromConfig(gc config.GeofenceConfig) Geofence {
	return Geofence{
		Enabled: gc.Enabled,
		CenterX: gc.CenterX,
		CenterZ: gc.CenterZ,
		Radius:  gc.Radius,
		YMin:    gc.YMin,
		YMax:    gc.YMax,
	}
}

// Contains reports whether the position is inside the fence. A nil position
// never passes an enabled fence.
func (g Geofence) Contains(pos *bot.Position) bool {
	if !g.Enabled {
		return true
	}
	if pos == nil {
		return false
	}
	if math.Max(math.Abs(pos.X-g.CenterX), math.Abs(pos.Z-g.CenterZ)) > g.Radius {
		return false
	}
	if g.YMin != nil && pos.Y < *g.YMin {
		return false
	}
	if g.YMax != nil && pos.Y > *g.YMax {
		return false
	}
	return true
}

// RateChecker is the read-only slice of the rate limiter the guard pipeline
// may touch. Recording happens only after commit, outside the pipeline.
type RateChecker interface {
	CanExecute(now time.Time) bool
}

// GuardInput is everything one guard evaluation reads.
type GuardInput struct {
	Geofence Geofence
	Position *bot.Position
	Allowed  map[string]bool
	Leaf     string
	Mode     string
	Limiter  RateChecker
}

// EvaluateGuards runs the guard pipeline as a pure decision function. The
// ordering is a contract: geofence, then leaf allowlist, then mode, then rate
// budget; feasibility is left to the caller's commit step.
func EvaluateGuards(in GuardInput, now time.Time) Decision {
	if in.Geofence.Enabled {
		if in.Position == nil {
			return DecisionBlockUnknownPosition
		}
		if !in.Geofence.Contains(in.Position) {
			return DecisionBlockOutsideGeofence
		}
	}

	if !in.Allowed[in.Leaf] {
		return DecisionBlockUnknownLeaf
	}

	if in.Mode == config.ModeShadow {
		return DecisionShadowObserve
	}

	if in.Limiter != nil && !in.Limiter.CanExecute(now) {
		return DecisionRateLimited
	}

	return DecisionAwaitRigG
}
