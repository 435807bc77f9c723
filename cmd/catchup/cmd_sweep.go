/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/catchup/internal/server"
	"github.com/friendsincode/catchup/internal/sweeper"
)

var sweepJSON bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one catch-up sweep and exit",
	Long: `Run a single catch-up sweep against the configured store and exit.

Useful from an external scheduler (systemd timer, Kubernetes CronJob) instead
of the built-in timer. The exit status is non-zero when the store could not be
queried; individual delivery failures are reported but do not fail the command.

Examples:
  # Sweep once using environment configuration
  catchup sweep

  # Print the report as JSON
  catchup sweep --json
`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepJSON, "json", false, "Print the sweep report as JSON")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	sa, err := server.NewStandalone(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize sweeper: %w", err)
	}
	defer func() {
		if err := sa.Close(); err != nil {
			logger.Error().Err(err).Msg("cleanup failed")
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := sa.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	if sweepJSON {
		return printReportJSON(report)
	}

	fmt.Printf("Sweep %s (%s) as of %s\n", report.SweepID, report.Hook, report.AsOf.Format("2006-01-02 15:04:05Z07:00"))
	for _, res := range report.Results {
		line := fmt.Sprintf("  %-9s %s", res.Outcome, res.ItemID)
		if res.Err != nil {
			line += "  " + res.Err.Error()
		}
		fmt.Println(line)
	}
	fmt.Printf("Delivered: %d  Failed: %d  Skipped: %d  (%s)\n",
		report.Delivered, report.Failed, report.Skipped, report.Duration.Round(time.Millisecond))
	return nil
}

func printReportJSON(report *sweeper.Report) error {
	type result struct {
		ItemID  string `json:"item_id"`
		Outcome string `json:"outcome"`
		Error   string `json:"error,omitempty"`
	}
	out := struct {
		*sweeper.Report
		Results []result `json:"results"`
	}{Report: report, Results: make([]result, 0, len(report.Results))}
	for _, res := range report.Results {
		r := result{ItemID: res.ItemID, Outcome: string(res.Outcome)}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		out.Results = append(out.Results, r)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
