package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// clearEnv blanks every DECKHAND_* override so file and default values
// are observed as written.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DECKHAND_INTERACTIVE_WORKERS",
		"DECKHAND_BACKGROUND_WORKERS",
		"DECKHAND_MAX_QUEUE",
		"DECKHAND_IDLE_TIMEOUT",
		"DECKHAND_METRICS_LISTEN",
		"DECKHAND_DEBUG",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "deckhand" {
		t.Errorf("expected Name=deckhand, got %s", cfg.Name)
	}
	if cfg.Compute.MaxQueue != 1000 {
		t.Errorf("expected MaxQueue=1000, got %d", cfg.Compute.MaxQueue)
	}
	// Zero worker counts mean "derive from the CPU count at startup".
	if cfg.Compute.InteractiveWorkers != 0 || cfg.Compute.BackgroundWorkers != 0 {
		t.Errorf("expected derived worker counts, got %d/%d",
			cfg.Compute.InteractiveWorkers, cfg.Compute.BackgroundWorkers)
	}
	if !cfg.Compute.ZeroCopy {
		t.Error("expected ZeroCopy enabled by default")
	}
	if cfg.Metrics.Enabled {
		t.Error("expected metrics disabled by default")
	}
	if cfg.Metrics.Listen != "127.0.0.1:9290" {
		t.Errorf("expected Listen=127.0.0.1:9290, got %s", cfg.Metrics.Listen)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	path := ConfigPath(tmpDir)

	cfg := DefaultConfig()
	cfg.Compute.InteractiveWorkers = 2
	cfg.Compute.BackgroundWorkers = 6
	cfg.Compute.IdleTimeout = "45s"
	cfg.Logging.DebugMode = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("config did not round-trip (-saved +loaded):\n%s", diff)
	}
	if loaded.GetIdleTimeout() != 45*time.Second {
		t.Errorf("expected IdleTimeout=45s, got %v", loaded.GetIdleTimeout())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	loaded, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error, got: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), loaded); diff != "" {
		t.Errorf("missing file should yield defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	partial := "compute:\n  max_queue: 250\n"
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// The file overlays the defaults: siblings of max_queue keep their
	// default values.
	want := DefaultConfig()
	want.Compute.MaxQueue = 250
	if diff := cmp.Diff(want, loaded); diff != "" {
		t.Errorf("partial load (-want +got):\n%s", diff)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}

	cfg.Compute.InteractiveWorkers = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for negative interactive workers")
	}

	cfg = DefaultConfig()
	cfg.Compute.MaxQueue = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero max_queue")
	}

	cfg = DefaultConfig()
	cfg.Compute.IdleTimeout = "soonish"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unparseable idle_timeout")
	}

	cfg = DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown log level")
	}

	cfg = DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for metrics without a listen address")
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.GetIdleTimeout() != 30*time.Second {
		t.Errorf("expected default idle timeout 30s, got %v", cfg.GetIdleTimeout())
	}
	if cfg.GetShutdownTimeout() != 10*time.Second {
		t.Errorf("expected default shutdown timeout 10s, got %v", cfg.GetShutdownTimeout())
	}

	// Unparseable strings fall back to the defaults rather than failing.
	cfg.Compute.IdleTimeout = "whenever"
	cfg.Compute.ShutdownTimeout = ""
	if cfg.GetIdleTimeout() != 30*time.Second {
		t.Errorf("expected fallback idle timeout, got %v", cfg.GetIdleTimeout())
	}
	if cfg.GetShutdownTimeout() != 10*time.Second {
		t.Errorf("expected fallback shutdown timeout, got %v", cfg.GetShutdownTimeout())
	}

	cfg.Compute.IdleTimeout = "2m"
	if cfg.GetIdleTimeout() != 2*time.Minute {
		t.Errorf("expected 2m idle timeout, got %v", cfg.GetIdleTimeout())
	}
}

func TestConfigPath(t *testing.T) {
	got := ConfigPath("/work/space")
	want := filepath.Join("/work/space", ".deckhand", "config.yaml")
	if got != want {
		t.Errorf("ConfigPath = %s, want %s", got, want)
	}
}
