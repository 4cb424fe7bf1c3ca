// Package bot is the HTTP client for the Minecraft bot endpoint. All action
// egress goes through a single shared cancel handle so an emergency stop can
// abort in-flight dispatches.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"blockmind/internal/logging"
)

// Position is the bot's world position, when known.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Client posts actions to the bot endpoint.
type Client struct {
	endpoint   string
	http       *http.Client
	openWindow time.Duration

	mu        sync.Mutex
	cancelFn  context.CancelFunc
	stopped   bool
	coolUntil time.Time
}

// NewClient returns a client for the bot endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		http:       &http.Client{Timeout: timeout},
		openWindow: 15 * time.Second,
	}
}

// SetBreakerWindow sets how long dispatches are refused after a transport
// failure.
func (c *Client) SetBreakerWindow(d time.Duration) {
	if d > 0 {
		c.openWindow = d
	}
}

// ErrNotConfigured is returned when no bot endpoint is configured.
var ErrNotConfigured = fmt.Errorf("bot endpoint not configured")

// ErrStopped is returned after an emergency stop aborted the cancel handle.
var ErrStopped = fmt.Errorf("action dispatch stopped")

// ErrCoolingDown is returned while the transport breaker window is open.
var ErrCoolingDown = fmt.Errorf("bot transport cooling down")

// Configured reports whether the client has an endpoint.
func (c *Client) Configured() bool { return c != nil && c.endpoint != "" }

// EmergencyStop aborts any in-flight dispatch and rejects all future ones.
// Already-dispatched bot-side effects are not undone.
func (c *Client) EmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	logging.Get(logging.CategoryGateway).Warn("emergency stop: bot dispatch aborted")
}

// Reset re-arms the client after an emergency stop.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = false
}

// PostAction dispatches one action to the bot's /action endpoint and returns
// the decoded response payload for normalization.
func (c *Client) PostAction(ctx context.Context, actionType string, parameters map[string]any, timeout time.Duration) (map[string]any, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	if until := c.coolUntil; time.Now().Before(until) {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w until %s", ErrCoolingDown, until.Format(time.RFC3339))
	}
	if timeout <= 0 {
		timeout = c.http.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	c.cancelFn = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		if c.cancelFn != nil {
			c.cancelFn = nil
		}
		c.mu.Unlock()
	}()

	body, err := json.Marshal(map[string]any{
		"type":       actionType,
		"parameters": parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("encode action: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint+"/action", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.mu.Lock()
		c.coolUntil = time.Now().Add(c.openWindow)
		c.mu.Unlock()
		return nil, fmt.Errorf("post action %s: %w", actionType, err)
	}
	c.mu.Lock()
	c.coolUntil = time.Time{}
	c.mu.Unlock()
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("post action %s: read body: %w", actionType, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("post action %s: decode (%d bytes): %w", actionType, len(data), err)
	}
	return payload, nil
}

// IsConnected probes the bot endpoint's /status route.
func (c *Client) IsConnected(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}

// Position returns the bot's current position, or nil when unknown. Unknown
// position is a legitimate state and the geofence fails closed on it.
func (c *Client) Position(ctx context.Context) *Position {
	if !c.Configured() {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/position", nil)
	if err != nil {
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var pos Position
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&pos); err != nil {
		return nil
	}
	return &pos
}
