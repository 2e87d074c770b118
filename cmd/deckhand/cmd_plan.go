package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deckhand/internal/compute"
)

var (
	planCores int
	planJSON  bool
)

// planCmd shows the capacity plan without starting anything
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the derived worker pool plan for this machine",
	Long: `Derives the tier sizing from the logical CPU count and prints it.

The interactive tier gets clamp(cores/10, 1, 2) always-warm workers; the
background tier gets what remains after reserving headroom for the host
process. Use --cores to plan for a different machine.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().IntVar(&planCores, "cores", 0, "Plan for a specific core count instead of detecting")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Emit the plan as JSON")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cores := planCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	pc := compute.DefaultPoolConfig(cores)

	logger.Debug("derived plan",
		zap.Int("cores", cores),
		zap.Int("interactive", pc.InteractiveWorkers),
		zap.Int("background", pc.BackgroundWorkers))

	if planJSON {
		out, err := json.MarshalIndent(struct {
			Cores int                `json:"cores"`
			Plan  compute.PoolConfig `json:"plan"`
		}{cores, pc}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Capacity plan for %d logical cores:\n\n", cores)
	fmt.Printf("  Interactive workers:  %d (always warm)\n", pc.InteractiveWorkers)
	fmt.Printf("  Background workers:   %d (scale to zero when idle)\n", pc.BackgroundWorkers)
	fmt.Printf("  Queue bound per tier: %d tasks\n", pc.MaxQueue)
	fmt.Printf("  Background idle:      %v\n", pc.IdleTimeout)
	fmt.Printf("  Shutdown window:      %v\n", pc.ShutdownTimeout)
	fmt.Printf("  Zero-copy buffers:    %v\n", pc.ZeroCopy)
	return nil
}
