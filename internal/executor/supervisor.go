// Package executor runs the autonomous execution loop: one step of one
// eligible task per tick, behind a strictly ordered guard pipeline, a sliding
// rate limiter, and a circuit breaker.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"blockmind/internal/bot"
	"blockmind/internal/config"
	"blockmind/internal/gateway"
	"blockmind/internal/integration"
	"blockmind/internal/logging"
	"blockmind/internal/resolve"
	"blockmind/internal/response"
	"blockmind/internal/task"
)

const backoffBase = 250 * time.Millisecond

// BlockedShadowMode marks tasks observed but not dispatched in shadow mode.
// Flipped back automatically when the executor runs live.
const BlockedShadowMode = "shadow_mode"

// PositionSource supplies the bot's position for the geofence.
type PositionSource interface {
	Position(ctx context.Context) *bot.Position
}

// EmergencyStopper aborts in-flight egress.
type EmergencyStopper interface {
	EmergencyStop()
}

// Supervisor owns the cooperative loop. Lifecycle-scoped: construct, Start,
// Stop. Emergency stop is a method, not process state.
type Supervisor struct {
	cfg     *config.Config
	integ   *integration.Integration
	gw      *gateway.Gateway
	pos     PositionSource
	stopper EmergencyStopper

	Breaker *CircuitBreaker
	Limiter *RateLimiter

	geofence Geofence
	allowed  map[string]bool

	now func() time.Time

	mu       sync.Mutex
	running  bool
	failures int
	cancel   context.CancelFunc
}

// New builds a supervisor. The allowlist defaults to the known leaf
// vocabulary when config does not narrow it.
func New(cfg *config.Config, integ *integration.Integration, gw *gateway.Gateway, pos PositionSource, stopper EmergencyStopper) *Supervisor {
	allowed := make(map[string]bool)
	leaves := cfg.Executor.AllowedLeaves
	if len(leaves) == 0 {
		leaves = integration.KnownLeafNames()
	}
	for _, leaf := range leaves {
		allowed[leaf] = true
	}

	return &Supervisor{
		cfg:      cfg,
		integ:    integ,
		gw:       gw,
		pos:      pos,
		stopper:  stopper,
		Breaker:  &CircuitBreaker{},
		Limiter:  NewRateLimiter(cfg.Executor.MaxStepsPerMinute),
		geofence: GeofenceFromConfig(cfg.Executor.Geofence),
		allowed:  allowed,
		now:      time.Now,
	}
}

// Start runs the loop until the context is canceled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("executor already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	poll := time.Duration(s.cfg.Executor.PollMs) * time.Millisecond
	if poll <= 0 {
		poll = 10 * time.Second
	}
	logging.Executor("executor loop starting: poll=%s mode=%s", poll, s.cfg.Executor.Mode)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Executor("executor loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				s.mu.Lock()
				s.failures++
				failures := s.failures
				s.mu.Unlock()

				backoff := backoffBase << failures
				maxBackoff := time.Duration(s.cfg.Executor.MaxBackoffMs) * time.Millisecond
				if failures > 16 || (maxBackoff > 0 && backoff > maxBackoff) {
					backoff = maxBackoff
				}
				logging.Get(logging.CategoryExecutor).Warn("cycle error (failures=%d, backoff=%s): %v", failures, backoff, err)

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
			} else {
				s.mu.Lock()
				s.failures = 0
				s.mu.Unlock()
			}
		}
	}
}

// Stop cancels the loop.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// EmergencyStop aborts in-flight egress and halts the loop. Bot-side effects
// already dispatched are not undone.
func (s *Supervisor) EmergencyStop() {
	if s.stopper != nil {
		s.stopper.EmergencyStop()
	}
	s.Stop()
	logging.WriteAudit(logging.AuditEvent{
		EventType: logging.AuditEmergencyStop,
		Origin:    gateway.OriginSafety,
	})
	logging.Get(logging.CategoryExecutor).Warn("emergency stop")
}

// RunCycle runs one tick: kill switch, breaker, blocked-task maintenance,
// eligibility pick, guard pipeline, and at most one dispatched step.
func (s *Supervisor) RunCycle(ctx context.Context) error {
	if !s.cfg.Executor.Enabled {
		return nil
	}

	now := s.now()
	if s.Breaker.IsOpen(now) {
		logging.ExecutorDebug("breaker open; skipping tick")
		return nil
	}

	mode, _ := s.cfg.ResolveMode()
	s.maintainBlocked(now, mode)

	t := s.pickEligible(now)
	if t == nil {
		return nil
	}

	step := t.FirstPendingStep()
	if step == nil {
		if t.AllStepsDone() {
			return s.integ.UpdateTaskStatus(t.ID, task.StatusCompleted, integration.StatusOptions{Reason: "all steps done"})
		}
		return nil
	}

	res := resolve.Resolve(t)
	if !res.OK {
		return s.applyResolutionFailure(t, res)
	}

	var pos *bot.Position
	if s.geofence.Enabled && s.pos != nil {
		pos = s.pos.Position(ctx)
	}

	decision := EvaluateGuards(GuardInput{
		Geofence: s.geofence,
		Position: pos,
		Allowed:  s.allowed,
		Leaf:     res.Action.Type,
		Mode:     mode,
		Limiter:  s.Limiter,
	}, now)
	logging.ExecutorDebug("guard decision for %s step %s: %s", t.ID, step.ID, decision)

	switch decision {
	case DecisionBlockUnknownPosition, DecisionBlockOutsideGeofence:
		logging.WriteAudit(logging.AuditEvent{
			EventType: logging.AuditSafetyBlock, Origin: gateway.OriginExecutor,
			ActionType: res.Action.Type, TaskID: t.ID, Error: string(decision),
		})
		return s.blockTask(t.ID, string(decision))

	case DecisionBlockUnknownLeaf:
		return s.blockTask(t.ID, fmt.Sprintf("%s:%s", DecisionBlockUnknownLeaf, res.Action.Type))

	case DecisionShadowObserve:
		if _, err := s.integ.StartTaskStep(t.ID, step.ID, integration.StepStartOptions{DryRun: true}); err != nil {
			return err
		}
		s.gw.Execute(ctx, gateway.Request{
			Origin: gateway.OriginExecutor, Priority: gateway.PriorityNormal,
			Action: *res.Action, TaskID: t.ID,
		})
		return s.blockTask(t.ID, BlockedShadowMode)

	case DecisionRateLimited:
		logging.WriteAudit(logging.AuditEvent{
			EventType: logging.AuditRateLimited, Origin: gateway.OriginExecutor, TaskID: t.ID,
		})
		next := now.Add(rateWindow / time.Duration(maxInt(1, s.cfg.Executor.MaxStepsPerMinute)))
		return s.integ.UpdateTaskMetadata(t.ID, integration.MetadataPatch{NextEligibleAt: &next})

	case DecisionAwaitRigG:
		return s.commitStep(ctx, t, step, *res.Action, now)
	}
	return nil
}

// commitStep runs the feasibility gate, consumes rate budget, and dispatches.
func (s *Supervisor) commitStep(ctx context.Context, t *task.Task, step *task.Step, action resolve.Action, now time.Time) error {
	advice, err := s.integ.StartTaskStep(t.ID, step.ID)
	if err != nil {
		return err
	}
	if !advice.ShouldProceed {
		return nil
	}

	s.Limiter.Record(now)

	resp := s.gw.Execute(ctx, gateway.Request{
		Origin:   gateway.OriginExecutor,
		Priority: gateway.PriorityNormal,
		Action:   action,
		TaskID:   t.ID,
	})
	return s.applyOutcome(t, step, resp)
}

// applyOutcome interprets the normalized dispatch result: success advances
// the step, deterministic failures block immediately, retryable failures set
// a backoff floor, and transport-level failures trip the breaker without
// blaming the task.
func (s *Supervisor) applyOutcome(t *task.Task, step *task.Step, resp gateway.Response) error {
	now := s.now()

	if resp.OK {
		s.Breaker.RecordSuccess()

		latest := s.integ.Store().Get(t.ID)
		if latest == nil {
			return nil
		}
		if st := latest.StepByID(step.ID); st != nil {
			st.Done = true
		}
		latest.Metadata.RetryCount = 0
		done, total := stepProgress(latest)
		s.integ.Store().Set(latest)
		if err := s.integ.UpdateTaskProgress(t.ID, float64(done)/float64(maxInt(1, total))); err != nil {
			return err
		}
		if latest.AllStepsDone() {
			return s.integ.UpdateTaskStatus(t.ID, task.StatusCompleted, integration.StatusOptions{Reason: "all steps done"})
		}
		return nil
	}

	if resp.ShadowBlocked {
		return s.blockTask(t.ID, BlockedShadowMode)
	}

	code := resp.FailureCode
	if code == "" && resp.Normalized == nil {
		// No normalized payload at all means the transport failed, not the
		// task.
		s.Breaker.Trip(now)
		return nil
	}

	if response.IsDeterministicFailure(code) {
		logging.Executor("deterministic failure %q on %s; blocking", code, t.ID)
		return s.blockTask(t.ID, code)
	}

	return s.retryBackoff(t.ID, code, now)
}

// retryBackoff pushes the eligibility floor out exponentially with each
// consecutive retryable failure, clamped by the configured max backoff. The
// count resets on the next successful dispatch.
func (s *Supervisor) retryBackoff(id, code string, now time.Time) error {
	base := time.Duration(s.cfg.Executor.FailureCooldownMs) * time.Millisecond
	if base <= 0 {
		base = 10 * time.Second
	}

	retries := 0
	if latest := s.integ.Store().Get(id); latest != nil {
		retries = latest.Metadata.RetryCount
	}

	cooldown := base << minInt(retries, 16)
	maxBackoff := time.Duration(s.cfg.Executor.MaxBackoffMs) * time.Millisecond
	if maxBackoff > 0 && cooldown > maxBackoff {
		cooldown = maxBackoff
	}

	next := now.Add(cooldown)
	retries++
	logging.Executor("retryable failure %q on %s; retry %d next eligible %s",
		code, id, retries, next.Format(time.RFC3339))
	return s.integ.UpdateTaskMetadata(id, integration.MetadataPatch{
		NextEligibleAt: &next, RetryCount: &retries,
	})
}

func (s *Supervisor) applyResolutionFailure(t *task.Task, res resolve.Resolution) error {
	if res.Failure == nil {
		return s.blockTask(t.ID, "mapping_missing:unknown")
	}
	if res.Failure.Retryable {
		return s.retryBackoff(t.ID, res.Failure.FailureCode, s.now())
	}
	return s.blockTask(t.ID, res.Failure.FailureCode)
}

func (s *Supervisor) blockTask(id, reason string) error {
	return s.integ.UpdateTaskMetadata(id, integration.MetadataPatch{BlockedReason: &reason})
}

// maintainBlocked sweeps blocked tasks before the eligibility pick: shadow
// blocks lift automatically in live mode, and everything else auto-fails once
// its TTL elapses.
func (s *Supervisor) maintainBlocked(now time.Time, mode string) {
	for _, t := range s.integ.Store().GetAll() {
		if !t.Blocked() || t.Status.IsTerminal() {
			continue
		}
		reason := t.Metadata.BlockedReason

		if mode == config.ModeLive && reason == BlockedShadowMode {
			clear := ""
			if err := s.integ.UpdateTaskMetadata(t.ID, integration.MetadataPatch{BlockedReason: &clear}); err == nil {
				logging.Executor("auto-unblocked %s from shadow_mode", t.ID)
			}
			continue
		}

		ttl, exempt := blockedTTL(reason)
		if exempt || t.Metadata.BlockedAt.IsZero() {
			continue
		}
		if now.Sub(t.Metadata.BlockedAt) > ttl {
			failReason := fmt.Sprintf("blocked-ttl-exceeded:%s", reason)
			logging.WriteAudit(logging.AuditEvent{
				EventType: logging.AuditTTLExpired, Origin: gateway.OriginExecutor,
				TaskID: t.ID, Error: failReason,
			})
			if err := s.integ.UpdateTaskStatus(t.ID, task.StatusFailed, integration.StatusOptions{Reason: failReason}); err != nil {
				logging.Get(logging.CategoryExecutor).Warn("ttl auto-fail for %s: %v", t.ID, err)
			}
		}
	}
}

// pickEligible returns the highest-priority eligible task.
func (s *Supervisor) pickEligible(now time.Time) *task.Task {
	var candidates []*task.Task
	for _, t := range s.integ.Store().GetAll() {
		if t.Eligible(now) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Priority != candidates[b].Priority {
			return candidates[a].Priority > candidates[b].Priority
		}
		return candidates[a].CreatedAt.Before(candidates[b].CreatedAt)
	})
	return candidates[0]
}

func stepProgress(t *task.Task) (done, total int) {
	for _, st := range t.Steps {
		total++
		if st.Done {
			done++
		}
	}
	return done, total
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
