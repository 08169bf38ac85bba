package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultsync/core/internal/config"
	"github.com/vaultsync/core/internal/syncengine"
	"github.com/vaultsync/core/internal/watch"
)

func newSyncCmd() *cobra.Command {
	var flagWatch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local tree with the coordination server",
		Long: `Run a one-shot sync cycle: pull server updates, merge them with local
changes, resolve any move cycles, and push the resulting local intent back.

Use --watch to keep running, triggering a new cycle whenever the local sync
directory changes, debounced over a short settling window.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if flagWatch {
				return runSyncWatch(cmd.Context(), cc)
			}

			return runSyncOnce(cmd.Context(), cc)
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "continuously sync on local filesystem changes")

	return cmd
}

func runSyncOnce(ctx context.Context, cc *CLIContext) error {
	s, engine, err := openEngine(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := engine.Sync(ctx)
	if err != nil && !errors.Is(err, syncengine.ErrSyncInProgress) {
		return fmt.Errorf("sync failed: %w", err)
	}
	if err != nil {
		return err
	}

	if flagJSON {
		if err := printSyncJSON(report); err != nil {
			return err
		}
	} else {
		printSyncText(report)
	}

	if len(report.Conflicts) > 0 {
		return errConflictsPresent
	}

	return nil
}

func runSyncWatch(parent context.Context, cc *CLIContext) error {
	if cc.Cfg.Sync.SyncDir == "" {
		return fmt.Errorf("sync.sync_dir not configured — set it in the config file or pass --sync-dir")
	}

	ctx := shutdownContext(parent, cc.Logger)

	// sync --watch is the one long-running process this CLI has, so it's
	// the one place a SIGHUP config reload is worth anything; every other
	// command reloads config fresh on each invocation already. Each triggered
	// sync opens its store and engine from the reloaded config; the watched
	// directory and the logger stay as they were at startup.
	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if flagSyncDir != "" {
		cli.SyncDir = flagSyncDir
	}

	if flagAccount != "" {
		cli.Account = flagAccount
	}

	holder := config.NewHolder(cc.Cfg, config.ResolveConfigPath(env, cli, cc.Logger))

	watchReloadOnSIGHUP(ctx, holder, env, cli, cc.Logger)

	w := watch.New(holder.Config().Sync.SyncDir, func(ctx context.Context) error {
		statusf(flagQuiet, "sync: change detected, syncing...\n")

		reloaded := &CLIContext{Cfg: holder.Config(), Logger: cc.Logger}

		s, engine, err := openEngine(reloaded)
		if err != nil {
			return err
		}
		defer s.Close()

		report, err := engine.Sync(ctx)
		if err != nil {
			if errors.Is(err, syncengine.ErrSyncInProgress) {
				return nil
			}

			return err
		}

		printSyncText(report)

		return nil
	}, cc.Logger)

	return w.Run(ctx)
}

func printSyncText(report *syncengine.Report) {
	if report.Pulled == 0 && report.Pushed == 0 && report.Deleted == 0 && report.Quarantined == 0 && len(report.Conflicts) == 0 {
		statusf(flagQuiet, "Already in sync.\n")
		return
	}

	statusf(flagQuiet, "Sync complete (%s)\n", report.Duration.Round(time.Millisecond))

	if report.Pulled > 0 {
		statusf(flagQuiet, "  Pulled:    %d\n", report.Pulled)
	}

	if report.Pushed > 0 {
		statusf(flagQuiet, "  Pushed:    %d\n", report.Pushed)
	}

	if report.Deleted > 0 {
		statusf(flagQuiet, "  Deleted:   %d\n", report.Deleted)
	}

	if report.Quarantined > 0 {
		statusf(flagQuiet, "  Quarantined: %d (signature verification failed)\n", report.Quarantined)
	}

	if len(report.Conflicts) > 0 {
		statusf(flagQuiet, "  Conflicts: %d\n", len(report.Conflicts))

		for _, c := range report.Conflicts {
			statusf(flagQuiet, "    %x: %s (%s)\n", c.ID, c.Field, c.Note)
		}
	}
}

// syncJSONConflict is the JSON output schema for one reported conflict.
type syncJSONConflict struct {
	ID    string `json:"id"`
	Field string `json:"field"`
	Note  string `json:"note"`
}

// syncJSONOutput is the JSON output schema for the sync command.
type syncJSONOutput struct {
	DurationMs  int64              `json:"duration_ms"`
	Pulled      int                `json:"pulled"`
	Pushed      int                `json:"pushed"`
	Deleted     int                `json:"deleted"`
	Quarantined int                `json:"quarantined"`
	Conflicts   []syncJSONConflict `json:"conflicts"`
}

func printSyncJSON(report *syncengine.Report) error {
	conflicts := make([]syncJSONConflict, 0, len(report.Conflicts))
	for _, c := range report.Conflicts {
		conflicts = append(conflicts, syncJSONConflict{
			ID:    fmt.Sprintf("%x", c.ID),
			Field: c.Field,
			Note:  c.Note,
		})
	}

	out := syncJSONOutput{
		DurationMs:  report.Duration.Milliseconds(),
		Pulled:      report.Pulled,
		Pushed:      report.Pushed,
		Deleted:     report.Deleted,
		Quarantined: report.Quarantined,
		Conflicts:   conflicts,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}
