package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/kanstar-preload/internal/db"
	"github.com/dtnitsch/kanstar-preload/internal/discover"
	"github.com/dtnitsch/kanstar-preload/internal/preload"
	"github.com/dtnitsch/kanstar-preload/internal/scroll"
	"github.com/dtnitsch/kanstar-preload/pkg/help"
)

func main() {
	app := &cli.App{
		Name:  "kanstar",
		Usage: "Preload landing-page media and replay scroll performance traces",
		Commands: []*cli.Command{
			{
				Name:   "preload",
				Usage:  "Warm the asset cache from a manifest, critical tier first",
				Flags:  preload.Flags,
				Action: preload.PreloadAction,
			},
			{
				Name:   "discover",
				Usage:  "Build an asset manifest from a page's images and videos",
				Flags:  discover.Flags,
				Action: discover.DiscoverAction,
			},
			{
				Name:  "runs",
				Usage: "List recorded preload runs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "Run history database"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum runs to show"},
				},
				Action: db.RunsAction,
			},
			{
				Name:      "run",
				Usage:     "Show one preload run and its per-asset results",
				ArgsUsage: "[run-id]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "Run history database"},
				},
				Action: db.RunAction,
			},
			{
				Name:  "coldstart",
				Usage: "Print a YAML quick-start guide",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprint(c.App.Writer, help.ColdstartYAML)
					return err
				},
			},
			{
				Name:   "scroll-sim",
				Usage:  "Replay a frame/scroll trace through the monitor and throttler",
				Flags:  scroll.Flags,
				Action: scroll.ScrollSimAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(preload.ExitFatal)
	}
}
