package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deckhand/internal/compute"
	"deckhand/internal/config"
)

var watchRecycle bool

// watchConfigCmd keeps pools running and applies config file changes
var watchConfigCmd = &cobra.Command{
	Use:   "watch-config",
	Short: "Run the pools and apply config file changes as they land",
	Long: `Initializes the pools, then watches .deckhand/config.yaml. Each
settled change is merged into the manager's config. Sizing changes only
bind when pools are rebuilt, so by default they sit until the next
restart; with --recycle the pools are drained and rebuilt on the spot.

Runs until interrupted.`,
	RunE: runWatchConfig,
}

func init() {
	watchConfigCmd.Flags().BoolVar(&watchRecycle, "recycle", false, "Rebuild pools after each reload to apply sizing immediately")
}

func runWatchConfig(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	cfg, err := loadWorkspaceConfig()
	if err != nil {
		return err
	}

	mgr := compute.NewManager(compute.WithConfig(poolConfigFrom(cfg)))
	registerBenchHandlers(mgr)
	if err := mgr.Initialize(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(config.ConfigPath(ws), func(next *config.Config) {
		pc := poolConfigFrom(next)
		mgr.UpdateConfig(compute.ConfigPatch{
			InteractiveWorkers: &pc.InteractiveWorkers,
			BackgroundWorkers:  &pc.BackgroundWorkers,
			MaxQueue:           &pc.MaxQueue,
			IdleTimeout:        &pc.IdleTimeout,
			ShutdownTimeout:    &pc.ShutdownTimeout,
			ZeroCopy:           &pc.ZeroCopy,
		})
		logger.Info("config reloaded",
			zap.Int("interactive", pc.InteractiveWorkers),
			zap.Int("background", pc.BackgroundWorkers),
			zap.Int("max_queue", pc.MaxQueue))

		if watchRecycle {
			recycleCtx, cancel := context.WithTimeout(context.Background(), pc.ShutdownTimeout+time.Second)
			defer cancel()
			if err := mgr.Shutdown(recycleCtx); err != nil {
				logger.Warn("recycle shutdown", zap.Error(err))
			}
			if err := mgr.Initialize(); err != nil {
				logger.Error("recycle initialize", zap.Error(err))
			}
		}
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	fmt.Printf("watching %s (recycle=%v), Ctrl-C to stop\n", config.ConfigPath(ws), watchRecycle)
	<-ctx.Done()

	st := watcher.Stats()
	fmt.Printf("\nseen %d events, %d reloads (%d failed)\n", st.EventsSeen, st.Reloads, st.ReloadErrors)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), mgr.Config().ShutdownTimeout+time.Second)
	defer cancel()
	return mgr.Shutdown(shutdownCtx)
}
