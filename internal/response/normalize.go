// Package response interprets heterogeneous bot action payloads into a
// normalized outcome. Normalization is a pure function: the gateway feeds it
// whatever the remote endpoint returned and gets back a stable shape with
// hoisted diagnostics and a deterministic-vs-retryable failure code.
package response

import (
	"strings"
)

// Normalized is the canonical outcome of an action dispatch.
type Normalized struct {
	OK              bool           `json:"ok"`
	Error           string         `json:"error,omitempty"`
	FailureCode     string         `json:"failureCode,omitempty"`
	Data            any            `json:"data"`
	ToolDiagnostics map[string]any `json:"toolDiagnostics,omitempty"`
	LeafStatus      string         `json:"leafStatus,omitempty"`
	LeafErrorCode   string         `json:"leafErrorCode,omitempty"`
}

const genericError = "Action failed"

// Normalize classifies an arbitrary payload from the action endpoint.
//
// Classification order:
//  1. Empty payload: failure with "Empty response".
//  2. Transport failure (outer success=false): failure.
//  3. Transport success with no leaf payload: success with nil data.
//  4. Leaf failure (success=false, status "failure", or an error present
//     without an explicit success marker): failure.
//  5. Otherwise: success.
func Normalize(payload any) Normalized {
	obj, _ := payload.(map[string]any)
	if len(obj) == 0 {
		return Normalized{OK: false, Error: "Empty response"}
	}

	// Transport failure
	if v, present := obj["success"]; present {
		if b, ok := v.(bool); ok && !b {
			return Normalized{
				OK:          false,
				Error:       extractError(obj),
				FailureCode: extractFailureCode(obj),
				Data:        obj["data"],
			}
		}
	}

	leaf := leafPayload(obj)
	diags := hoistDiagnostics(obj)

	if leaf == nil {
		// No leaf payload: a bare error on the outer object still means
		// failure unless the payload explicitly marks itself successful.
		if _, hasErr := obj["error"]; hasErr && !explicitSuccess(obj) {
			return Normalized{
				OK:              false,
				Error:           extractError(obj),
				FailureCode:     extractFailureCode(obj),
				Data:            obj["data"],
				ToolDiagnostics: diags,
			}
		}
		return Normalized{OK: true, Data: obj["data"], ToolDiagnostics: diags}
	}

	leafStatus, _ := leaf["status"].(string)
	leafErrCode := errorCode(leaf)

	if leafFailed(leaf) {
		return Normalized{
			OK:              false,
			Error:           extractError(leaf),
			FailureCode:     firstNonEmpty(leafErrCode, extractFailureCode(obj)),
			Data:            obj["data"],
			ToolDiagnostics: diags,
			LeafStatus:      leafStatus,
			LeafErrorCode:   leafErrCode,
		}
	}

	return Normalized{
		OK:              true,
		Data:            obj["data"],
		ToolDiagnostics: diags,
		LeafStatus:      leafStatus,
	}
}

// leafPayload locates the leaf result object. Two wrapper shapes are
// recognized: dispatcher-wrapped (data.leafResult.result) and direct leaf
// (result). Legacy payloads have neither.
func leafPayload(obj map[string]any) map[string]any {
	if data, ok := obj["data"].(map[string]any); ok {
		if lr, ok := data["leafResult"].(map[string]any); ok {
			if res, ok := lr["result"].(map[string]any); ok {
				return res
			}
		}
	}
	if res, ok := obj["result"].(map[string]any); ok {
		return res
	}
	return nil
}

func leafFailed(leaf map[string]any) bool {
	if v, present := leaf["success"]; present {
		if b, ok := v.(bool); ok && !b {
			return true
		}
	}
	if st, _ := leaf["status"].(string); st == "failure" {
		return true
	}
	if _, hasErr := leaf["error"]; hasErr && !explicitSuccess(leaf) {
		return true
	}
	return false
}

// explicitSuccess reports whether the object positively marks success via
// success=true or status="success".
func explicitSuccess(obj map[string]any) bool {
	if b, ok := obj["success"].(bool); ok && b {
		return true
	}
	if st, _ := obj["status"].(string); st == "success" {
		return true
	}
	return false
}

// extractError pulls a human-readable error out of the object, in order:
// error as string, error.detail, error.message, message, then a generic.
func extractError(obj map[string]any) string {
	switch e := obj["error"].(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if d, _ := e["detail"].(string); d != "" {
			return d
		}
		if m, _ := e["message"].(string); m != "" {
			return m
		}
	}
	if m, _ := obj["message"].(string); m != "" {
		return m
	}
	return genericError
}

// extractFailureCode pulls a failure code: error.code first, then the
// top-level failureCode.
func extractFailureCode(obj map[string]any) string {
	if code := errorCode(obj); code != "" {
		return code
	}
	if code, _ := obj["failureCode"].(string); code != "" {
		return code
	}
	return ""
}

func errorCode(obj map[string]any) string {
	if e, ok := obj["error"].(map[string]any); ok {
		if code, _ := e["code"].(string); code != "" {
			return code
		}
	}
	return ""
}

// hoistDiagnostics extracts toolDiagnostics from either recognized wrapper
// shape. Diagnostics are accepted only when the object carries a non-null
// version tag; anything else is treated as garbage and dropped.
func hoistDiagnostics(obj map[string]any) map[string]any {
	var cands []any
	if data, ok := obj["data"].(map[string]any); ok {
		if lr, ok := data["leafResult"].(map[string]any); ok {
			if res, ok := lr["result"].(map[string]any); ok {
				cands = append(cands, res["toolDiagnostics"])
			}
		}
	}
	if res, ok := obj["result"].(map[string]any); ok {
		cands = append(cands, res["toolDiagnostics"])
	}

	for _, c := range cands {
		d, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if v, present := d["version"]; present && v != nil {
			return d
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// deterministicPrefixes mark whole failure families that no retry can fix.
var deterministicPrefixes = []string{"mapping_", "contract_", "postcondition_"}

// deterministicTerminal is the closed set of leaf-terminal codes, matched
// against both the full code and its dot-suffix.
var deterministicTerminal = map[string]bool{
	"invalid_input":      true,
	"tool_invalid":       true,
	"missing_ingredient": true,
	"inventory_full":     true,
	"unloaded_chunks":    true,
	"unknown_recipe":     true,
	"unknown_block":      true,
	"unknown_item":       true,
}

// IsDeterministicFailure reports whether the failure code denotes a failure
// that retrying cannot fix. Transient leaf codes (timeout, stuck, busy,
// navigate.unreachable, acquire.noneCollected) are retryable.
func IsDeterministicFailure(code string) bool {
	if code == "" {
		return false
	}
	for _, p := range deterministicPrefixes {
		if strings.HasPrefix(code, p) {
			return true
		}
	}
	if deterministicTerminal[code] {
		return true
	}
	if i := strings.LastIndex(code, "."); i >= 0 {
		if deterministicTerminal[code[i+1:]] {
			return true
		}
	}
	return false
}
