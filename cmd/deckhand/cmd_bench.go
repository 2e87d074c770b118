package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deckhand/internal/compute"
	"deckhand/internal/logging"
	"deckhand/internal/metrics"
)

var (
	benchTasks   int
	benchPayload int
	benchListen  string
)

// benchCmd floods both tiers with synthetic work and reports the stats
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a synthetic workload through both tiers and report stats",
	Long: `Initializes the pools from the workspace config, then pushes a batch
of checksum tasks through the background tier while pinging the
interactive tier, the way the dashboard mixes index builds with
user-facing requests. Prints the stats snapshot when the batch drains.

With --listen, the Prometheus exporter serves /metrics for the duration
of the run.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchTasks, "tasks", 200, "Background tasks to dispatch")
	benchCmd.Flags().IntVar(&benchPayload, "payload", 256*1024, "Payload size per task in bytes")
	benchCmd.Flags().StringVar(&benchListen, "listen", "", "Serve Prometheus metrics on this address during the run")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadWorkspaceConfig()
	if err != nil {
		return err
	}

	mgr := compute.NewManager(compute.WithConfig(poolConfigFrom(cfg)))
	registerBenchHandlers(mgr)

	if err := mgr.Initialize(); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout()+time.Second)
		defer cancel()
		if err := mgr.Shutdown(ctx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	// Ctrl-C cancels the batch; the deferred shutdown still drains.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listen := benchListen
	if listen == "" && cfg.Metrics.Enabled {
		listen = cfg.Metrics.Listen
	}
	if listen != "" {
		srv := &http.Server{Addr: listen, Handler: metricsMux(mgr)}
		go func() {
			logger.Info("metrics listening", zap.String("addr", listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	plan := mgr.Config()
	fmt.Printf("bench: %d tasks x %d bytes, interactive=%d background=%d\n",
		benchTasks, benchPayload, plan.InteractiveWorkers, plan.BackgroundWorkers)

	timer := logging.StartTimer(logging.CategoryBench, "bench batch")
	start := time.Now()

	var g errgroup.Group

	// Batch load on the background tier.
	for i := 0; i < benchTasks; i++ {
		seed := byte(i)
		g.Go(func() error {
			buf := compute.NewBuffer(benchPayload)
			fill(buf.Bytes(), seed)
			_, err := mgr.RunBackground(ctx, "checksum", nil, buf)
			if errors.Is(err, compute.ErrQueueFull) {
				return nil // Expected under pressure; counted as rejected
			}
			return err
		})
	}

	// Interactive pings riding on top of the batch.
	pings := benchTasks / 10
	if pings < 1 {
		pings = 1
	}
	for i := 0; i < pings; i++ {
		g.Go(func() error {
			res, err := mgr.RunInteractive(ctx, "echo", "ping")
			if err != nil {
				return err
			}
			logging.BenchDebug("ping done in %v on worker %d", res.Duration, res.WorkerID)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	elapsed := timer.StopWithInfo()

	snap := mgr.Stats()
	fmt.Printf("\nbench finished in %v (wall %v)\n\n", elapsed, time.Since(start).Round(time.Millisecond))
	printSnapshot(snap)
	return nil
}

// registerBenchHandlers installs the synthetic task handlers.
func registerBenchHandlers(mgr *compute.Manager) {
	mgr.RegisterHandler("checksum", func(ctx context.Context, task compute.Task) (any, error) {
		h := sha256.New()
		for _, buf := range task.Buffers {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			h.Write(buf.Bytes())
			buf.Release()
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	})

	mgr.RegisterHandler("echo", func(ctx context.Context, task compute.Task) (any, error) {
		return task.Payload, nil
	})

	mgr.RegisterHandler("sleep", func(ctx context.Context, task compute.Task) (any, error) {
		d, ok := task.Payload.(time.Duration)
		if !ok {
			return nil, fmt.Errorf("sleep: payload must be a duration, got %T", task.Payload)
		}
		select {
		case <-time.After(d):
			return d, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func metricsMux(mgr *compute.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.NewHandler(mgr))
	return mux
}

// fill writes a cheap deterministic pattern so checksums differ per task.
func fill(p []byte, seed byte) {
	for i := range p {
		p[i] = byte(i) ^ seed
	}
}

func printSnapshot(snap compute.Snapshot) {
	for _, ts := range []compute.TierStats{snap.Interactive, snap.Background} {
		fmt.Printf("%-12s workers=%d active=%d queued=%d completed=%d failed=%d rejected=%d avg=%v\n",
			ts.Tier, ts.Workers, ts.ActiveWorkers, ts.QueuedTasks,
			ts.CompletedTasks, ts.FailedTasks, ts.RejectedTasks, ts.AverageDuration.Round(time.Microsecond))
	}
	fmt.Printf("%-12s tasks=%d avg=%v zero_copy=%v\n",
		"total", snap.TotalTasks, snap.AverageDuration.Round(time.Microsecond), snap.ZeroCopy)
}
