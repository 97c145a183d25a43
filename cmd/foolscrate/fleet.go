package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foolscrate/foolscrate/internal/sweep"
)

var syncAllJSON bool

func newSyncAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-all",
		Short: "Synchronize every tracked replica",
		Long: `Synchronizes all tracked replicas in one sweep, in random order and after
a short random pause. A fleet-wide lock ensures only one sweep runs at a
time; if another is in progress this command exits immediately.

Per-replica failures are reported but do not abort the sweep. This is the
command the cron entry runs every minute.`,
		Args: cobra.NoArgs,
		RunE: runSyncAll,
	}
	cmd.Flags().BoolVar(&syncAllJSON, "json", false, "emit the sweep report as JSON")
	return cmd
}

func runSyncAll(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, reg, opts, err := buildEnv()
	if err != nil {
		return err
	}

	sweeper := sweep.New(reg, cfg.Sync.FleetLockPath, opts)

	ctx, cancel := signalContext()
	defer cancel()

	sw, err := sweeper.SweepAll(ctx)
	if err != nil {
		return err
	}

	if syncAllJSON {
		out, err := json.MarshalIndent(sw, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if sw.Skipped {
		fmt.Println("Another sweep is already running, skipped.")
		return nil
	}

	counts := sw.Counts()
	fmt.Printf("Swept %d replicas in %.1fs: %d synced, %d conflict, %d invalid, %d locked, %d failed\n",
		len(sw.Results), sw.Elapsed().Seconds(),
		counts.Synced, counts.Conflict, counts.Invalid, counts.Locked, counts.Error)
	for _, res := range sw.Results {
		if res.Outcome.Failure() {
			fmt.Printf("  %s: %s (%s)\n", res.Dir, res.Outcome, res.Error)
		}
	}
	return nil
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Drop tracked entries whose directories no longer exist",
		Args:  cobra.NoArgs,
		RunE:  runCleanup,
	}
}

func runCleanup(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, reg, opts, err := buildEnv()
	if err != nil {
		return err
	}

	sweeper := sweep.New(reg, cfg.Sync.FleetLockPath, opts)

	ctx, cancel := signalContext()
	defer cancel()

	removed, err := sweeper.Prune(ctx)
	if err != nil {
		return err
	}

	if len(removed) == 0 {
		fmt.Println("Nothing to clean up.")
		return nil
	}
	for _, dir := range removed {
		fmt.Printf("Removed %s\n", dir)
	}
	fmt.Printf("Cleaned up %d entries.\n", len(removed))
	return nil
}
