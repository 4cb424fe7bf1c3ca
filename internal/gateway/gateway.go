// Package gateway is the single egress point for bot actions. Every dispatch,
// including shadow-blocked and pre-flight failures, produces an audit entry.
package gateway

import (
	"context"
	"sync"
	"time"

	"blockmind/internal/config"
	"blockmind/internal/logging"
	"blockmind/internal/resolve"
	"blockmind/internal/response"
)

// Request origins.
const (
	OriginExecutor  = "executor"
	OriginReactive  = "reactive"
	OriginCognition = "cognition"
	OriginManual    = "manual"
	OriginSafety    = "safety"
)

// Request priorities.
const (
	PriorityNormal    = "normal"
	PriorityHigh      = "high"
	PriorityEmergency = "emergency"
)

// Request is one action dispatch.
type Request struct {
	Origin   string
	Priority string
	Action   resolve.Action
	TaskID   string
	Context  map[string]any
}

// Response is the normalized dispatch outcome.
type Response struct {
	OK            bool
	Error         string
	FailureCode   string
	ShadowBlocked bool
	DurationMs    int64
	Normalized    *response.Normalized
}

// BotTransport is the slice of the bot client the gateway needs.
type BotTransport interface {
	PostAction(ctx context.Context, actionType string, parameters map[string]any, timeout time.Duration) (map[string]any, error)
	IsConnected(ctx context.Context) bool
}

// AuditListener observes audit events. Listeners run synchronously; a
// panicking listener is swallowed so it can never break the gateway.
type AuditListener func(logging.AuditEvent)

// Gateway dispatches actions through the bot transport.
type Gateway struct {
	cfg *config.Config
	bot BotTransport

	mu        sync.RWMutex
	listeners []AuditListener
}

// New builds a gateway.
func New(cfg *config.Config, bot BotTransport) *Gateway {
	return &Gateway{cfg: cfg, bot: bot}
}

// OnAudit registers an audit listener.
func (g *Gateway) OnAudit(fn AuditListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Execute dispatches one action. Shadow mode short-circuits before any remote
// effect; the audit trail records the decision either way.
func (g *Gateway) Execute(ctx context.Context, req Request) Response {
	log := logging.Get(logging.CategoryGateway)
	mode, downgraded := g.cfg.ResolveMode()
	if downgraded {
		log.Warn("live mode not confirmed; dispatching %s in shadow", req.Action.Type)
	}

	if mode == config.ModeShadow {
		g.audit(logging.AuditEvent{
			EventType:  logging.AuditActionShadow,
			Origin:     req.Origin,
			Priority:   req.Priority,
			ActionType: req.Action.Type,
			Mode:       mode,
			TaskID:     req.TaskID,
		})
		return Response{
			OK:            false,
			Error:         "Blocked by shadow mode",
			ShadowBlocked: true,
			DurationMs:    0,
		}
	}

	start := time.Now()

	if g.bot == nil || !g.bot.IsConnected(ctx) {
		duration := time.Since(start).Milliseconds()
		g.audit(logging.AuditEvent{
			EventType:  logging.AuditActionError,
			Origin:     req.Origin,
			Priority:   req.Priority,
			ActionType: req.Action.Type,
			Mode:       mode,
			Error:      "bot not connected",
			DurationMs: duration,
			TaskID:     req.TaskID,
		})
		return Response{OK: false, Error: "bot not connected", DurationMs: duration}
	}

	timeout := time.Duration(g.cfg.Gateway.ActionTimeoutMs) * time.Millisecond
	if req.Action.TimeoutMs > 0 {
		timeout = time.Duration(req.Action.TimeoutMs) * time.Millisecond
	}

	payload, err := g.bot.PostAction(ctx, req.Action.Type, req.Action.Parameters, timeout)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		// Transport failure: no normalized payload, so the caller can tell it
		// apart from a task-level failure.
		g.audit(logging.AuditEvent{
			EventType:  logging.AuditActionError,
			Origin:     req.Origin,
			Priority:   req.Priority,
			ActionType: req.Action.Type,
			Mode:       mode,
			Error:      err.Error(),
			DurationMs: duration,
			TaskID:     req.TaskID,
		})
		return Response{OK: false, Error: err.Error(), DurationMs: duration}
	}

	norm := response.Normalize(payload)

	eventType := logging.AuditActionDispatch
	if !norm.OK {
		eventType = logging.AuditActionError
	}
	g.audit(logging.AuditEvent{
		EventType:   eventType,
		Origin:      req.Origin,
		Priority:    req.Priority,
		ActionType:  req.Action.Type,
		Mode:        mode,
		Success:     norm.OK,
		Error:       norm.Error,
		FailureCode: norm.FailureCode,
		DurationMs:  duration,
		TaskID:      req.TaskID,
		Fields:      req.Context,
	})

	log.Info("dispatch %s origin=%s ok=%v dur=%dms code=%s",
		req.Action.Type, req.Origin, norm.OK, duration, norm.FailureCode)

	return Response{
		OK:          norm.OK,
		Error:       norm.Error,
		FailureCode: norm.FailureCode,
		DurationMs:  duration,
		Normalized:  &norm,
	}
}

func (g *Gateway) audit(event logging.AuditEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	logging.WriteAudit(event)

	g.mu.RLock()
	listeners := make([]AuditListener, len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Get(logging.CategoryGateway).Error("audit listener panicked: %v", r)
				}
			}()
			fn(event)
		}()
	}
}
