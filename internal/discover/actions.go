package discover

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/kanstar-preload/internal/common"
	"github.com/dtnitsch/kanstar-preload/pkg/discover"
	"github.com/dtnitsch/kanstar-preload/pkg/fetcher"
)

var Flags = []cli.Flag{
	&cli.StringFlag{
		Name:     "url",
		Usage:    "Page to scan for images and videos",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "base-url",
		Usage: "Write locators under this base as root-relative paths",
	},
	&cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Write the manifest to a file instead of stdout",
	},
	&cli.StringFlag{
		Name:  "user-agent",
		Usage: "User-Agent sent with the page request",
	},
	&cli.BoolFlag{
		Name:    "quiet",
		Aliases: []string{"q"},
		Usage:   "Only log errors",
	},
}

func DiscoverAction(c *cli.Context) error {
	logLevel := slog.LevelInfo
	if c.Bool("quiet") {
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}

	pageURL, err := common.ParseHTTPURL(c.String("url"))
	if err != nil {
		logger.Error("invalid --url", "error", err)
		return cli.Exit(err.Error(), 2)
	}

	f := fetcher.NewFetcher().WithUserAgent(c.String("user-agent"))
	m, err := discover.Page(ctx, f, pageURL.String(), logger)
	if err != nil {
		logger.Error("discovery failed", "error", err, "url", pageURL.String())
		return cli.Exit(err.Error(), 2)
	}
	if c.IsSet("base-url") {
		base, err := common.ParseHTTPURL(c.String("base-url"))
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		if m, err = discover.Relativize(m, base.String()); err != nil {
			return cli.Exit(err.Error(), 2)
		}
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if path := c.String("output"); path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}
		logger.Info("Manifest written", "path", path, "assets", m.Total())
		return nil
	}
	_, err = c.App.Writer.Write(data)
	return err
}
