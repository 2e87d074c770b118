package compute

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultPoolConfigKnownMachines(t *testing.T) {
	cases := []struct {
		cores       int
		interactive int
		background  int
	}{
		{1, 1, 1},
		{2, 1, 1},
		{4, 1, 1},
		{8, 1, 4},
		{10, 1, 6},
		{16, 1, 12},
		{20, 2, 15},
		{24, 2, 19},
		{32, 2, 27},
		{64, 2, 59},
		{128, 2, 123},
	}

	for _, tc := range cases {
		pc := DefaultPoolConfig(tc.cores)
		if pc.InteractiveWorkers != tc.interactive {
			t.Errorf("cores=%d: interactive = %d, want %d", tc.cores, pc.InteractiveWorkers, tc.interactive)
		}
		if pc.BackgroundWorkers != tc.background {
			t.Errorf("cores=%d: background = %d, want %d", tc.cores, pc.BackgroundWorkers, tc.background)
		}
	}
}

func TestDefaultPoolConfigBounds(t *testing.T) {
	for cores := 1; cores <= 256; cores++ {
		pc := DefaultPoolConfig(cores)
		if pc.InteractiveWorkers < 1 || pc.InteractiveWorkers > 2 {
			t.Fatalf("cores=%d: interactive %d outside [1,2]", cores, pc.InteractiveWorkers)
		}
		if pc.BackgroundWorkers < 1 {
			t.Fatalf("cores=%d: background %d below 1", cores, pc.BackgroundWorkers)
		}
		if got := DefaultPoolConfig(cores); got != pc {
			t.Fatalf("cores=%d: plan not deterministic", cores)
		}
	}
}

func TestDefaultPoolConfigDefaults(t *testing.T) {
	pc := DefaultPoolConfig(8)
	if pc.MaxQueue != 1000 {
		t.Errorf("MaxQueue = %d, want 1000", pc.MaxQueue)
	}
	if pc.IdleTimeout != 30*time.Second {
		t.Errorf("IdleTimeout = %v, want 30s", pc.IdleTimeout)
	}
	if pc.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", pc.ShutdownTimeout)
	}
	if !pc.ZeroCopy {
		t.Errorf("ZeroCopy = false, want true")
	}
}

func TestDefaultPoolConfigClampsBadCoreCount(t *testing.T) {
	for _, cores := range []int{0, -1, -100} {
		pc := DefaultPoolConfig(cores)
		if pc.InteractiveWorkers != 1 || pc.BackgroundWorkers != 1 {
			t.Errorf("cores=%d: got interactive=%d background=%d, want 1/1",
				cores, pc.InteractiveWorkers, pc.BackgroundWorkers)
		}
	}
}

func TestDetectPoolConfig(t *testing.T) {
	pc := DetectPoolConfig()
	if pc.InteractiveWorkers < 1 || pc.BackgroundWorkers < 1 {
		t.Fatalf("detected plan has empty tier: %+v", pc)
	}
	if err := pc.Validate(); err != nil {
		t.Fatalf("detected plan invalid: %v", err)
	}
}

func TestPoolConfigWithDefaults(t *testing.T) {
	got := PoolConfig{MaxQueue: 5}.withDefaults()
	if got.MaxQueue != 5 {
		t.Errorf("explicit MaxQueue overwritten: %d", got.MaxQueue)
	}
	if got.InteractiveWorkers < 1 || got.BackgroundWorkers < 1 {
		t.Errorf("zero worker counts not filled: %+v", got)
	}
	if got.IdleTimeout != 30*time.Second || got.ShutdownTimeout != 10*time.Second {
		t.Errorf("zero timeouts not filled: %+v", got)
	}
	if got.ZeroCopy {
		t.Errorf("withDefaults flipped ZeroCopy, want it kept as given")
	}
}

func TestPoolConfigValidate(t *testing.T) {
	valid := DefaultPoolConfig(8)
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*PoolConfig)
		wantSub string
	}{
		{"no interactive", func(c *PoolConfig) { c.InteractiveWorkers = 0 }, "interactive workers"},
		{"no background", func(c *PoolConfig) { c.BackgroundWorkers = -1 }, "background workers"},
		{"no queue", func(c *PoolConfig) { c.MaxQueue = 0 }, "max queue"},
		{"negative idle", func(c *PoolConfig) { c.IdleTimeout = -time.Second }, "idle timeout"},
		{"negative shutdown", func(c *PoolConfig) { c.ShutdownTimeout = -time.Second }, "shutdown timeout"},
	}

	for _, tc := range cases {
		cfg := valid
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantSub) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.wantSub)
		}
	}
}
