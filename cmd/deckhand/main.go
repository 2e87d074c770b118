package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"deckhand/internal/compute"
	"deckhand/internal/config"
	"deckhand/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "deckhand",
	Short: "deckhand - two-tier worker pool manager for the assistant dashboard",
	Long: `deckhand manages the worker pools that keep CPU-heavy work
(embedding batches, index builds, large-buffer processing) off the
dashboard's interactive path.

The interactive tier answers latency-sensitive requests from a small set
of always-warm workers; the background tier scales between zero and its
configured bound and soaks up batch throughput. Feature modules register
task handlers by name and dispatch {name, payload} envelopes; the pools
are agnostic to what the tasks do.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		if err := logging.Initialize(ws); err != nil {
			logger.Warn("debug logging unavailable", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return workspace, nil
	}
	ws, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}
	return ws, nil
}

// loadWorkspaceConfig reads the workspace config file with environment
// overrides applied.
func loadWorkspaceConfig() (*config.Config, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.ConfigPath(ws))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// poolConfigFrom maps the file config onto a runtime pool plan. Worker
// counts of zero fall back to the CPU-derived defaults.
func poolConfigFrom(cfg *config.Config) compute.PoolConfig {
	pc := compute.DetectPoolConfig()
	if cfg.Compute.InteractiveWorkers > 0 {
		pc.InteractiveWorkers = cfg.Compute.InteractiveWorkers
	}
	if cfg.Compute.BackgroundWorkers > 0 {
		pc.BackgroundWorkers = cfg.Compute.BackgroundWorkers
	}
	if cfg.Compute.MaxQueue > 0 {
		pc.MaxQueue = cfg.Compute.MaxQueue
	}
	pc.IdleTimeout = cfg.GetIdleTimeout()
	pc.ShutdownTimeout = cfg.GetShutdownTimeout()
	pc.ZeroCopy = cfg.Compute.ZeroCopy
	return pc
}
