package preload

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/kanstar-preload/pkg/loader"
)

var Flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "manifest",
		Aliases: []string{"m"},
		Usage:   "Path to the asset manifest YAML",
	},
	&cli.StringFlag{
		Name:  "base-url",
		Usage: "Base URL that relative manifest locators resolve against",
	},
	&cli.StringFlag{
		Name:  "device",
		Value: "auto",
		Usage: "Device class: mobile, desktop or auto (probes --user-agent)",
	},
	&cli.StringFlag{
		Name:  "user-agent",
		Usage: "User-Agent sent with asset requests and used for device detection",
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Usage: "Per-asset deadline (overrides the device profile)",
	},
	&cli.IntFlag{
		Name:  "batch-size",
		Usage: "Concurrent secondary loads (overrides the device profile)",
	},
	&cli.IntFlag{
		Name:  "max-retries",
		Value: loader.MaxRetries,
		Usage: "Retries per asset after the first attempt",
	},
	&cli.StringFlag{
		Name:  "backoff",
		Value: "linear",
		Usage: "Retry back-off: linear (n x base), fixed (base) or immediate ((n-1) x base)",
	},
	&cli.DurationFlag{
		Name:  "backoff-base",
		Value: loader.DefaultBackoffBase,
		Usage: "Base back-off delay",
	},
	&cli.IntFlag{
		Name:  "screen-retries",
		Value: 0,
		Usage: "Re-run the whole load this many times after a critical failure",
	},
	&cli.StringFlag{
		Name:  "cache-dir",
		Usage: "Directory for the on-disk asset cache (disabled when empty)",
	},
	&cli.DurationFlag{
		Name:  "cache-ttl",
		Value: 24 * time.Hour,
		Usage: "Cache entry lifetime (0 = never expire)",
	},
	&cli.StringFlag{
		Name:  "db",
		Usage: "Run history database path (defaults next to the binary)",
	},
	&cli.BoolFlag{
		Name:  "no-history",
		Usage: "Do not record this run",
	},
	&cli.StringFlag{
		Name:  "format",
		Value: "yaml",
		Usage: "Output format: yaml or json",
	},
	&cli.BoolFlag{
		Name:    "quiet",
		Aliases: []string{"q"},
		Usage:   "Only log errors and hide the progress bar",
	},
}
