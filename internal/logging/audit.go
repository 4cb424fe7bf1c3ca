// Audit logging for action egress. Audit entries are structured JSONL events
// recording every dispatch decision made by the execution gateway, including
// shadow-blocked and pre-flight failures, so live behavior can be
// reconstructed after the fact.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Gateway egress events
	AuditActionDispatch AuditEventType = "action_dispatch"
	AuditActionShadow   AuditEventType = "action_shadow"
	AuditActionError    AuditEventType = "action_error"

	// Safety events
	AuditSafetyBlock AuditEventType = "safety_block"
	AuditSafetyAllow AuditEventType = "safety_allow"

	// Executor lifecycle events
	AuditBreakerTrip   AuditEventType = "breaker_trip"
	AuditBreakerReset  AuditEventType = "breaker_reset"
	AuditEmergencyStop AuditEventType = "emergency_stop"
	AuditRateLimited   AuditEventType = "rate_limited"
	AuditTTLExpired    AuditEventType = "ttl_expired"
)

// AuditEvent represents a structured audit log entry.
type AuditEvent struct {
	Timestamp   int64                  `json:"ts"` // Unix milliseconds
	EventType   AuditEventType         `json:"event"`
	Origin      string                 `json:"origin"` // executor, reactive, cognition, manual, safety
	Priority    string                 `json:"priority,omitempty"`
	ActionType  string                 `json:"action,omitempty"`
	Mode        string                 `json:"mode,omitempty"` // shadow or live
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	FailureCode string                 `json:"failure_code,omitempty"`
	DurationMs  int64                  `json:"dur_ms"`
	TaskID      string                 `json:"task,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit initializes the audit logging system.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// WriteAudit writes an audit event to the JSONL audit log.
// No-op when debug mode is disabled or audit is not initialized.
func WriteAudit(event AuditEvent) {
	if !IsDebugMode() {
		return
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}
