package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultsync/core/internal/syncengine"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending work without syncing",
		Long: `Compute the work a sync cycle would perform right now — files to push,
pull, or delete locally — without making any changes.`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	s, engine, err := openEngine(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := engine.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}

	if flagJSON {
		return printStatusJSON(report)
	}

	printStatusText(report)

	return nil
}

type statusJSONWorkUnit struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type statusJSONOutput struct {
	LastSyncedAt string               `json:"last_synced_at"`
	WorkUnits    []statusJSONWorkUnit `json:"work_units"`
}

func printStatusJSON(report *syncengine.StatusReport) error {
	units := make([]statusJSONWorkUnit, 0, len(report.WorkUnits))
	for _, u := range report.WorkUnits {
		units = append(units, statusJSONWorkUnit{Kind: u.Kind.String(), Name: u.Name, Message: u.Message})
	}

	out := statusJSONOutput{
		LastSyncedAt: report.LastSyncedAt.Format("2006-01-02T15:04:05Z07:00"),
		WorkUnits:    units,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printStatusText(report *syncengine.StatusReport) {
	if len(report.WorkUnits) == 0 {
		fmt.Println("Up to date.")

		if !report.LastSyncedAt.IsZero() {
			fmt.Printf("Last synced: %s\n", formatTime(report.LastSyncedAt))
		}

		return
	}

	for _, u := range report.WorkUnits {
		fmt.Println(u.Message)
	}
}
