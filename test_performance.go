//go:build ignore

// Standalone performance verification for the two-tier pool manager
// Run with: go run test_performance.go
package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deckhand/internal/compute"
)

func main() {
	fmt.Println("🧪 Testing deckhand worker pool performance\n")

	cfg := compute.PoolConfig{
		InteractiveWorkers: 1,
		BackgroundWorkers:  4,
		MaxQueue:           256,
		IdleTimeout:        200 * time.Millisecond,
		ShutdownTimeout:    5 * time.Second,
		ZeroCopy:           true,
	}
	mgr := compute.NewManager(compute.WithConfig(cfg))
	if err := mgr.Initialize(); err != nil {
		fmt.Printf("⚠️  initialize failed: %v\n", err)
		return
	}

	mgr.RegisterHandler("ping", func(ctx context.Context, task compute.Task) (any, error) {
		return "pong", nil
	})
	mgr.RegisterHandler("busy", func(ctx context.Context, task compute.Task) (any, error) {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil, nil
	})

	// Test 1: Interactive latency while the background tier is saturated
	fmt.Println("Test 1: Interactive latency under background load")
	var bgWG sync.WaitGroup
	for w := 0; w < 8; w++ {
		bgWG.Add(1)
		go func() {
			defer bgWG.Done()
			for i := 0; i < 25; i++ {
				mgr.RunBackground(context.Background(), "busy", nil)
			}
		}()
	}

	const pings = 100
	var total, worst time.Duration
	for i := 0; i < pings; i++ {
		res, err := mgr.RunInteractive(context.Background(), "ping", nil)
		if err != nil {
			fmt.Printf("  ⚠️  interactive dispatch failed: %v\n", err)
			continue
		}
		total += res.Duration
		if res.Duration > worst {
			worst = res.Duration
		}
	}
	fmt.Printf("  ✅ %d interactive dispatches while background was saturated\n", pings)
	fmt.Printf("  ✅ avg latency: %v, worst: %v\n", total/pings, worst)
	bgWG.Wait()
	fmt.Printf("  ✅ background drained: %d tasks completed\n\n", mgr.Stats().Background.CompletedTasks)

	// Test 2: Queue backpressure fails fast instead of blocking
	fmt.Println("Test 2: Queue backpressure")
	gate := make(chan struct{})
	mgr.RegisterHandler("block", func(ctx context.Context, task compute.Task) (any, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil, nil
	})

	// Occupy every worker, then fill the queue to its bound.
	for i := 0; i < cfg.BackgroundWorkers; i++ {
		go mgr.RunBackground(context.Background(), "block", nil)
	}
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < cfg.MaxQueue; i++ {
		go mgr.RunBackground(context.Background(), "block", nil)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	_, err := mgr.RunBackground(context.Background(), "block", nil)
	rejectIn := time.Since(start)
	if errors.Is(err, compute.ErrQueueFull) {
		fmt.Printf("  ✅ overflow rejected with ErrQueueFull in %v\n", rejectIn)
	} else {
		fmt.Printf("  ⚠️  expected ErrQueueFull, got: %v\n", err)
	}
	close(gate)

	// Test 3: Background tier scales to zero, then wakes on demand
	fmt.Println("\nTest 3: Scale to zero and wake")
	for {
		snap := mgr.Stats()
		if snap.Background.ActiveWorkers == 0 && snap.Background.QueuedTasks == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(3 * cfg.IdleTimeout)

	start = time.Now()
	if _, err := mgr.RunBackground(context.Background(), "ping", nil); err != nil {
		fmt.Printf("  ⚠️  wake dispatch failed: %v\n", err)
	}
	cold := time.Since(start)
	start = time.Now()
	mgr.RunBackground(context.Background(), "ping", nil)
	warm := time.Since(start)
	fmt.Printf("  ✅ cold dispatch after idle retirement: %v\n", cold)
	fmt.Printf("  ✅ warm dispatch: %v\n", warm)

	// Test 4: Shutdown with in-flight work
	fmt.Println("\nTest 4: Shutdown with in-flight work")
	for w := 0; w < 4; w++ {
		go mgr.RunBackground(context.Background(), "busy", nil)
	}
	time.Sleep(20 * time.Millisecond)

	start = time.Now()
	if err := mgr.Shutdown(context.Background()); err != nil {
		fmt.Printf("  ⚠️  shutdown error: %v\n", err)
	}
	fmt.Printf("  ✅ shutdown completed in %v\n", time.Since(start))
	fmt.Printf("  ✅ manager initialized=%v after shutdown\n", mgr.Initialized())

	// Summary
	snap := mgr.Stats()
	fmt.Println("\n" + strings.Repeat("=", 62))
	fmt.Println("📊 Performance Test Results Summary")
	fmt.Println(strings.Repeat("=", 62))
	fmt.Printf("✅ completed: interactive=%d background=%d\n",
		snap.Interactive.CompletedTasks, snap.Background.CompletedTasks)
	fmt.Printf("✅ rejected by backpressure: %d\n", snap.Background.RejectedTasks)
	fmt.Printf("✅ average dispatch duration: %v\n", snap.AverageDuration)
	fmt.Println("\n🎉 Pool manager performance verified!")
}
