// Audit logging: a single append-only JSONL stream of lifecycle events.
// Where category logs are prose for humans, the audit stream is one event
// per line for tooling (jq, the dashboard's diagnostics panel). Only
// active in debug mode, like everything else in this package.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the kind of lifecycle event
type AuditEventType string

const (
	// Manager lifecycle -> one event per transition
	AuditManagerInit     AuditEventType = "manager_init"
	AuditManagerShutdown AuditEventType = "manager_shutdown"

	// Pool lifecycle
	AuditPoolUp   AuditEventType = "pool_up"
	AuditPoolDown AuditEventType = "pool_down"

	// Task outcomes; successes are not audited, the stats counters cover them
	AuditTaskFail   AuditEventType = "task_fail"
	AuditTaskReject AuditEventType = "task_reject"

	// Config changes
	AuditConfigUpdate AuditEventType = "config_update"
	AuditConfigReload AuditEventType = "config_reload"
)

// AuditEvent is one line of the audit stream
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	Tier       string                 `json:"tier,omitempty"`
	Task       string                 `json:"task,omitempty"`
	RequestID  string                 `json:"req,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger = &AuditLogger{}
)

// AuditLogger writes lifecycle events to the audit stream
type AuditLogger struct{}

// InitAudit opens the audit stream. No-op outside debug mode.
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

	header := fmt.Sprintf("# Audit stream started at %s, one JSON event per line\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit stream
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	return auditLogger
}

// Log writes one audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	// auditFile is only read or written under auditMu; InitAudit and
	// CloseAudit swap it concurrently with writers.
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// ManagerInit logs a manager initialization
func (a *AuditLogger) ManagerInit(interactive, background, maxQueue int) {
	a.Log(AuditEvent{
		EventType: AuditManagerInit,
		Success:   true,
		Message:   fmt.Sprintf("Pools initialized: interactive=%d background=%d max_queue=%d", interactive, background, maxQueue),
		Fields: map[string]interface{}{
			"interactive": interactive,
			"background":  background,
			"max_queue":   maxQueue,
		},
	})
}

// ManagerShutdown logs a manager shutdown with its outcome
func (a *AuditLogger) ManagerShutdown(durationMs int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditManagerShutdown,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    "Pools shut down",
	})
}

// PoolUp logs a tier pool coming up
func (a *AuditLogger) PoolUp(tier string, minWorkers, maxWorkers, maxQueue int) {
	a.Log(AuditEvent{
		EventType: AuditPoolUp,
		Tier:      tier,
		Success:   true,
		Fields: map[string]interface{}{
			"min_workers": minWorkers,
			"max_workers": maxWorkers,
			"max_queue":   maxQueue,
		},
	})
}

// PoolDown logs a tier pool being destroyed
func (a *AuditLogger) PoolDown(tier string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditPoolDown,
		Tier:      tier,
		Success:   success,
		Error:     errMsg,
	})
}

// TaskFail logs a failed task execution
func (a *AuditLogger) TaskFail(tier, task, requestID string, durationMs int64, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditTaskFail,
		Tier:       tier,
		Task:       task,
		RequestID:  requestID,
		Success:    false,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// TaskReject logs a rejected submission
func (a *AuditLogger) TaskReject(tier, task, requestID string, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditTaskReject,
		Tier:      tier,
		Task:      task,
		RequestID: requestID,
		Success:   false,
		Error:     errMsg,
	})
}

// ConfigUpdate logs a config merge
func (a *AuditLogger) ConfigUpdate(fields map[string]interface{}) {
	a.Log(AuditEvent{
		EventType: AuditConfigUpdate,
		Success:   true,
		Message:   "Pool config updated",
		Fields:    fields,
	})
}

// ConfigReload logs a config file reload picked up by the watcher
func (a *AuditLogger) ConfigReload(path string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditConfigReload,
		Success:   success,
		Error:     errMsg,
		Message:   fmt.Sprintf("Config reloaded from %s", path),
	})
}
