package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func RunsAction(c *cli.Context) error {
	database, err := OpenFromFlag(c)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	runs, err := database.ListRuns(c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	w := c.App.Writer
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return nil
	}

	fmt.Fprintf(w, "%-36s %-20s %-8s %-17s %-8s %-8s %-10s %-10s\n",
		"Run ID", "Started", "Device", "Status", "Loaded", "Failed", "Size", "Duration")
	fmt.Fprintln(w, strings.Repeat("-", 124))

	for _, r := range runs {
		fmt.Fprintf(w, "%-36s %-20s %-8s %-17s %-8s %-8d %-10s %-10s\n",
			r.RunID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Device,
			r.Status,
			fmt.Sprintf("%d/%d", r.Loaded, r.Total),
			r.Failed,
			humanize.Bytes(uint64(r.Bytes)),
			r.Duration().Round(time.Millisecond).String(),
		)
	}

	fmt.Fprintf(w, "\nTotal: %d runs\n", len(runs))
	fmt.Fprintf(w, "\nTip: Use 'kanstar run <id>' to see details\n")

	return nil
}

// RunAction shows details for a specific run
func RunAction(c *cli.Context) error {
	database, err := OpenFromFlag(c)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	runID, err := GetRunIDOrLatest(c, database)
	if err != nil {
		return err
	}

	run, err := database.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	assets, err := database.GetRunAssets(runID)
	if err != nil {
		return fmt.Errorf("failed to get run assets: %w", err)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Run %s\n", run.RunID)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Started:     %s (%s)\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt))
	fmt.Fprintf(w, "Manifest:    %s\n", orNone(run.ManifestPath))
	fmt.Fprintf(w, "Base URL:    %s\n", orNone(run.BaseURL))
	fmt.Fprintf(w, "Device:      %s\n", run.Device)
	fmt.Fprintf(w, "Status:      %s\n", run.Status)
	fmt.Fprintf(w, "Assets:      %d total (%d loaded, %d failed)\n", run.Total, run.Loaded, run.Failed)
	fmt.Fprintf(w, "Transferred: %s in %s\n", humanize.Bytes(uint64(run.Bytes)), run.Duration())

	fmt.Fprintf(w, "\nAssets (%d):\n", len(assets))
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for i, a := range assets {
		status := "loaded"
		if a.ErrorType != "" {
			status = "failed"
		} else if a.Cached {
			status = "cached"
		}
		fmt.Fprintf(w, "%2d. [%s] %s (%s)\n", i+1, status, a.Key, a.Tier)
		fmt.Fprintf(w, "    %s\n", a.URL)
		if a.ErrorType != "" {
			fmt.Fprintf(w, "    Error: [%s] %s after %d attempt(s)\n", a.ErrorType, a.ErrorMessage, a.Attempts)
		} else {
			fmt.Fprintf(w, "    Attempts: %d | Size: %s | Time: %s\n", a.Attempts, humanize.Bytes(uint64(a.SizeBytes)), a.Duration)
		}
	}

	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
