// Package sterling is the HTTP client for the Sterling reasoning service. It
// covers the two RPCs the planning core needs: expanding a committed IR
// envelope into steps, and resolving intent leaves into concrete leaves.
package sterling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"blockmind/internal/logging"
)

// Blocked reasons the expansion RPC can return. Only BlockedDigestUnknown is
// retried; everything else is an immediate ingest block.
const (
	BlockedDigestUnknown = "blocked_digest_unknown"
	BlockedExecutorError = "blocked_executor_error"
	StatusOK             = "ok"
	StatusBlocked        = "blocked"
)

// ExpandedStep is one step of an expanded IR envelope. Leaves with the
// task_type_ prefix are intent placeholders that still need resolution.
type ExpandedStep struct {
	Leaf  string         `json:"leaf"`
	Label string         `json:"label,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
}

// ExpandResult is the outcome of ExpandByDigest.
type ExpandResult struct {
	Status          string         `json:"status"` // ok | blocked
	Reason          string         `json:"reason,omitempty"`
	Steps           []ExpandedStep `json:"steps,omitempty"`
	ExpansionDigest string         `json:"expansionDigest,omitempty"`
	SchemaVersion   string         `json:"schemaVersion,omitempty"`
}

// IntentReplacement is a resolved intent leaf, keyed by the index of the
// intent step in the expanded plan.
type IntentReplacement struct {
	IntentStepIndex int            `json:"intent_step_index"`
	Steps           []ExpandedStep `json:"steps"`
}

// ResolveRequest asks Sterling to resolve the intent leaves of a plan.
type ResolveRequest struct {
	Digest  string         `json:"digest"`
	Steps   []ExpandedStep `json:"steps"`
	Context map[string]any `json:"context,omitempty"`
}

// ResolveResult carries the replacements Sterling produced. Indices absent
// from Replacements stay unresolved.
type ResolveResult struct {
	Status       string              `json:"status"`
	Reason       string              `json:"reason,omitempty"`
	Replacements []IntentReplacement `json:"replacements,omitempty"`
}

// Client talks to a Sterling endpoint over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient returns a client for the given base endpoint. An empty endpoint
// yields a client whose calls fail with ErrNotConfigured.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// ErrNotConfigured is returned when no Sterling endpoint is configured.
var ErrNotConfigured = fmt.Errorf("sterling endpoint not configured")

// Configured reports whether the client has an endpoint to talk to.
func (c *Client) Configured() bool { return c != nil && c.endpoint != "" }

// ExpandByDigest expands a committed IR envelope into executable steps.
func (c *Client) ExpandByDigest(ctx context.Context, digest string) (*ExpandResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var out ExpandResult
	if err := c.post(ctx, "/ir/expand", map[string]any{"digest": digest}, &out); err != nil {
		return nil, err
	}
	logging.Sterling("expandByDigest %s: status=%s steps=%d reason=%s",
		digest, out.Status, len(out.Steps), out.Reason)
	return &out, nil
}

// ResolveIntentSteps resolves intent leaves into concrete leaf sequences.
func (c *Client) ResolveIntentSteps(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var out ResolveResult
	if err := c.post(ctx, "/ir/resolve-intents", req, &out); err != nil {
		return nil, err
	}
	logging.Sterling("resolveIntentSteps %s: status=%s replacements=%d",
		req.Digest, out.Status, len(out.Replacements))
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sterling %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("sterling %s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sterling %s: status %d: %s", path, resp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("sterling %s: decode: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
