package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"deckhand/internal/compute"
)

var statsJSON bool

// statsCmd initializes the pools from config and prints the snapshot,
// mainly useful for checking what a given config resolves to.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Initialize pools from the workspace config and print the stats snapshot",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Emit the snapshot as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadWorkspaceConfig()
	if err != nil {
		return err
	}

	mgr := compute.NewManager(compute.WithConfig(poolConfigFrom(cfg)))
	if err := mgr.Initialize(); err != nil {
		return err
	}
	defer mgr.Shutdown(context.Background())

	snap := mgr.Stats()
	if statsJSON {
		out, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	printSnapshot(snap)
	return nil
}
