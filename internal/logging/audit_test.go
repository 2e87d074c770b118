package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAuditStreamWritesEvents(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "audit_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	writeTestConfig(t, tempDir, `logging:
  level: debug
  debug_mode: true
`)

	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit: %v", err)
	}

	Audit().ManagerInit(1, 4, 1000)
	Audit().TaskFail("background", "checksum", "ab12cd34", 12, "boom")
	Audit().TaskReject("background", "checksum", "ef56ab78", "task queue is full")
	Audit().ConfigUpdate(map[string]interface{}{"max_queue": 500})
	Audit().ManagerShutdown(5, true, "")
	CloseAudit()

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(tempDir, ".deckhand", "logs", date+"_audit.log")
	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("audit stream not written: %v", err)
	}

	var events []AuditEvent
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.HasPrefix(line, "#") {
			continue // header
		}
		var ev AuditEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("unparseable audit line %q: %v", line, err)
		}
		events = append(events, ev)
	}

	want := []AuditEventType{
		AuditManagerInit,
		AuditTaskFail,
		AuditTaskReject,
		AuditConfigUpdate,
		AuditManagerShutdown,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.EventType != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.EventType, want[i])
		}
		if ev.Timestamp <= 0 {
			t.Errorf("event %d has no timestamp", i)
		}
	}

	fail := events[1]
	if fail.Tier != "background" || fail.Task != "checksum" || fail.RequestID != "ab12cd34" {
		t.Errorf("task_fail fields did not round-trip: %+v", fail)
	}
	if fail.Success || fail.Error != "boom" {
		t.Errorf("task_fail outcome wrong: %+v", fail)
	}
}

func TestAuditDisabledInProduction(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "audit_test_prod")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	resetLogging()
	defer resetLogging()

	// No config file at all: production mode.
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit should no-op in production: %v", err)
	}

	Audit().ManagerInit(1, 4, 1000)
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".deckhand", "logs")
	entries, err := os.ReadDir(logsPath)
	if err == nil && len(entries) > 0 {
		t.Errorf("audit wrote %d files in production mode", len(entries))
	}
}

func TestAuditLogDuringStreamCycling(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "audit_cycle")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	writeTestConfig(t, tempDir, `logging:
  level: debug
  debug_mode: true
`)

	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit: %v", err)
	}

	// Writers race the stream being closed and reopened. Events landing
	// in a closed window are dropped; the rest must come out whole.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					Audit().TaskFail("background", "checksum", "ab12cd34", 1, "boom")
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		CloseAudit()
		if err := InitAudit(); err != nil {
			t.Fatalf("InitAudit cycle %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
	CloseAudit()

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(tempDir, ".deckhand", "logs", date+"_audit.log")
	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("audit stream not written: %v", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var ev AuditEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("unparseable audit line %q: %v", line, err)
		}
		if ev.EventType != AuditTaskFail {
			t.Fatalf("unexpected event type %q in cycling stream", ev.EventType)
		}
	}
}

func BenchmarkAuditLog(b *testing.B) {
	tempDir, err := os.MkdirTemp("", "audit_bench")
	if err != nil {
		b.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".deckhand")
	os.MkdirAll(configDir, 0755)
	os.WriteFile(filepath.Join(configDir, "config.yaml"),
		[]byte("logging:\n  level: debug\n  debug_mode: true\n"), 0644)

	resetLogging()
	defer resetLogging()
	if err := Initialize(tempDir); err != nil {
		b.Fatalf("Initialize: %v", err)
	}
	if err := InitAudit(); err != nil {
		b.Fatalf("InitAudit: %v", err)
	}
	defer CloseAudit()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Audit().TaskFail("background", "checksum", "ab12cd34", 12, "handler error with a moderately long message")
	}
}
