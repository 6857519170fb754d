package scroll

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/kanstar-preload/pkg/scrollsim"
)

var Flags = []cli.Flag{
	&cli.StringFlag{
		Name:     "trace",
		Usage:    "YAML trace of frame rates and scroll bursts",
		Required: true,
	},
	&cli.Float64Flag{
		Name:  "fps-threshold",
		Usage: "Override the trace's degrade threshold",
	},
	&cli.StringFlag{
		Name:  "format",
		Value: "text",
		Usage: "Output format: text, yaml or json",
	},
	&cli.BoolFlag{
		Name:    "quiet",
		Aliases: []string{"q"},
		Usage:   "Only log errors",
	},
}

func ScrollSimAction(c *cli.Context) error {
	logLevel := slog.LevelInfo
	if c.Bool("quiet") {
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	tr, err := scrollsim.LoadTrace(c.String("trace"))
	if err != nil {
		logger.Error("invalid trace", "error", err, "path", c.String("trace"))
		return cli.Exit(err.Error(), 2)
	}
	var opts []scrollsim.RunOption
	if c.IsSet("fps-threshold") {
		opts = append(opts, scrollsim.WithFPSThreshold(c.Float64("fps-threshold")))
	}

	res := scrollsim.Run(tr, logger, opts...)

	w := c.App.Writer
	switch strings.ToLower(c.String("format")) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	case "text":
	default:
		return cli.Exit(fmt.Sprintf("unknown --format %q (want text, yaml or json)", c.String("format")), 2)
	}

	fmt.Fprintf(w, "%-10s %-10s %-10s %-8s\n", "At", "From", "To", "Avg FPS")
	fmt.Fprintln(w, strings.Repeat("-", 42))
	for _, t := range res.Transitions {
		fmt.Fprintf(w, "%-10s %-10s %-10s %-8.1f\n", t.At, t.From, t.To, t.FPS)
	}
	fmt.Fprintf(w, "\nScroll events: %d handled, %d dropped\n", res.HandledScrolls, res.DroppedScrolls)
	fmt.Fprintf(w, "Average FPS:   %.1f over %d samples\n", res.AverageFPS, len(res.FPSSamples))
	fmt.Fprintf(w, "Degraded for:  %s\n", res.Degraded)
	fmt.Fprintf(w, "Final mode:    %s (time-scale %.1f)\n", res.FinalMode, res.FinalTimeScale)
	fmt.Fprintf(w, "Per-frame:     time-scale %.1f\n", res.FrameTimeScale)
	for _, issue := range res.Issues {
		fmt.Fprintf(w, "Budget:        %s %.1f (budget %.1f)\n", issue.Metric, issue.Value, issue.Budget)
	}
	return nil
}
