package preload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/kanstar-preload/internal/common"
	"github.com/dtnitsch/kanstar-preload/models"
	"github.com/dtnitsch/kanstar-preload/pkg/caching"
	"github.com/dtnitsch/kanstar-preload/pkg/db"
	"github.com/dtnitsch/kanstar-preload/pkg/fetcher"
	"github.com/dtnitsch/kanstar-preload/pkg/loader"
	"github.com/dtnitsch/kanstar-preload/pkg/loadscreen"
	"github.com/dtnitsch/kanstar-preload/pkg/monitor"
)

// Exit codes
const (
	ExitOK       = 0
	ExitDegraded = 1
	ExitFatal    = 2
)

// screenFrameInterval is the loading screen's refresh rate.
const screenFrameInterval = time.Second / 60

// Output is what the command prints on stdout.
type Output struct {
	Summary Summary         `json:"summary" yaml:"summary"`
	Report  *loader.Report  `json:"report" yaml:"report"`
	Issues  []monitor.Issue `json:"budget_issues,omitempty" yaml:"budget_issues,omitempty"`
}

// Summary is the human-oriented header of the output.
type Summary struct {
	RunID    string `json:"run_id" yaml:"run_id"`
	Status   string `json:"status" yaml:"status"`
	Device   string `json:"device" yaml:"device"`
	Assets   string `json:"assets" yaml:"assets"`
	Size     string `json:"size" yaml:"size"`
	Duration string `json:"duration" yaml:"duration"`
	Retries  int    `json:"screen_retries,omitempty" yaml:"screen_retries,omitempty"`
}

func PreloadAction(c *cli.Context) error {
	logLevel := slog.LevelInfo
	if c.Bool("quiet") {
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := buildConfig(c)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return cli.Exit(err.Error(), ExitFatal)
	}

	manifest, err := models.LoadManifest(cfg.ManifestPath)
	if err != nil {
		logger.Error("failed to load manifest", "error", err, "path", cfg.ManifestPath)
		return cli.Exit(err.Error(), ExitFatal)
	}
	if cfg.BaseURL != "" {
		manifest, err = manifest.Resolve(cfg.BaseURL)
		if err != nil {
			logger.Error("failed to resolve manifest", "error", err, "base_url", cfg.BaseURL)
			return cli.Exit(err.Error(), ExitFatal)
		}
	}

	opts := []loader.Option{
		loader.WithProfile(cfg.Profile),
		loader.WithBackoff(loader.Backoff{Mode: cfg.BackoffMode, Base: cfg.BackoffBase}),
		loader.WithMaxRetries(cfg.MaxRetries),
		loader.WithLogger(logger),
	}
	if cfg.CacheDir != "" {
		cache, err := caching.NewCache(cfg.CacheDir, cfg.CacheTTL)
		if err != nil {
			logger.Error("failed to initialize cache", "error", err)
			return cli.Exit(err.Error(), ExitFatal)
		}
		if pruned, err := cache.Prune(); err != nil {
			logger.Warn("Failed to prune cache", "error", err)
		} else if pruned > 0 {
			logger.Info("Pruned expired cache entries", "count", pruned)
		}
		opts = append(opts, loader.WithCache(cache))
	}

	var sinkOpts []loadscreen.Option
	if !c.Bool("quiet") {
		sinkOpts = append(sinkOpts, loadscreen.WithSink(func(u loadscreen.Update) {
			fmt.Fprintf(c.App.ErrWriter, "\r%s", loadscreen.Render(u))
		}))
	}
	sinkOpts = append(sinkOpts, loadscreen.WithErrorHandler(func(err error) {
		logger.Error("Critical assets failed to load", "error", err)
	}))
	screen := loadscreen.New(func(r *loader.Report) {
		logger.Info("Load complete", "run_id", r.RunID, "status", r.Status)
	}, sinkOpts...)

	f := fetcher.NewFetcher().WithUserAgent(c.String("user-agent"))
	l := loader.New(f, append(opts, loader.WithHooks(screen.Hooks()))...)

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	mon := monitor.New(
		monitor.WithLogger(logger),
		monitor.WithFrameSource(monitor.TickerSource{Interval: screenFrameInterval}),
		monitor.WithHeapSampler(monitor.RuntimeHeap{}),
	)
	stopWatch := watchBudgets(ctx, mon, logger)

	screen.Mount(ctx)
	report, retries, loadErr := loadWithScreenRetries(ctx, screen, l, manifest, c.Int("screen-retries"), logger)
	screen.Unmount()
	stopWatch()
	if !c.Bool("quiet") {
		fmt.Fprintln(c.App.ErrWriter)
	}

	issues := budgetIssues(mon, report, logger)

	if !c.Bool("no-history") && report != nil {
		recordHistory(c.String("db"), report, cfg, logger)
	}

	out := Output{Summary: summarize(report, retries), Report: report, Issues: issues}
	if err := writeOutput(c.App.Writer, c.String("format"), out); err != nil {
		logger.Error("failed to write output", "error", err)
		return cli.Exit(err.Error(), ExitFatal)
	}

	return exitFor(report, loadErr)
}

func buildConfig(c *cli.Context) (*models.PreloadConfig, error) {
	if c.String("manifest") == "" {
		return nil, errors.New("--manifest is required")
	}

	class, err := models.ParseDeviceClass(c.String("device"), c.String("user-agent"))
	if err != nil {
		return nil, err
	}
	profile := models.ProfileFor(class)
	if c.IsSet("timeout") {
		profile.Timeout = c.Duration("timeout")
	}
	if c.IsSet("batch-size") {
		if c.Int("batch-size") < 1 {
			return nil, fmt.Errorf("--batch-size must be at least 1, got %d", c.Int("batch-size"))
		}
		profile.BatchSize = c.Int("batch-size")
	}

	switch strings.ToLower(c.String("format")) {
	case "", "yaml", "json":
	default:
		return nil, fmt.Errorf("unknown --format %q (want yaml or json)", c.String("format"))
	}

	mode := models.BackoffMode(strings.ToLower(c.String("backoff")))
	switch mode {
	case models.BackoffLinear, models.BackoffFixed, models.BackoffImmediate:
	default:
		return nil, fmt.Errorf("unknown --backoff %q (want linear, fixed or immediate)", c.String("backoff"))
	}

	var baseURL string
	if c.IsSet("base-url") {
		u, err := common.ParseHTTPURL(c.String("base-url"))
		if err != nil {
			return nil, fmt.Errorf("--base-url: %w", err)
		}
		baseURL = u.String()
	}

	return &models.PreloadConfig{
		ManifestPath: c.String("manifest"),
		BaseURL:      baseURL,
		Profile:      profile,
		CacheDir:     c.String("cache-dir"),
		CacheTTL:     c.Duration("cache-ttl"),
		MaxRetries:   c.Int("max-retries"),
		BackoffBase:  c.Duration("backoff-base"),
		BackoffMode:  mode,
	}, nil
}

// loadWithScreenRetries runs the manifest and, on a critical failure, uses the
// loading screen's retry affordance up to maxRetries more times.
func loadWithScreenRetries(ctx context.Context, screen *loadscreen.Screen, l *loader.Loader, m *models.AssetManifest, maxRetries int, logger *slog.Logger) (*loader.Report, int, error) {
	report, err := l.LoadManifest(ctx, m)
	retries := 0
	for err != nil && report != nil && report.Status == loader.RunCriticalFailure && retries < maxRetries {
		retries++
		logger.Info("Retrying from loading screen", "attempt", retries)
		report, err = screen.Retry(ctx, l, m)
	}
	return report, retries, err
}

// watchBudgets samples the loading screen's frame loop and heap while assets
// load, logging budget violations once a second. The returned func stops
// the watch and waits for it.
func watchBudgets(ctx context.Context, mon *monitor.Monitor, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.Watch(ctx, time.Second, func(issue monitor.Issue) {
			logger.Warn("Budget exceeded while loading", "metric", issue.Metric, "value", issue.Value, "budget", issue.Budget)
		})
	}()
	return func() {
		cancel()
		<-done
	}
}

// budgetIssues adds per-asset load times to mon and reports budget violations.
func budgetIssues(mon *monitor.Monitor, report *loader.Report, logger *slog.Logger) []monitor.Issue {
	if report == nil {
		return nil
	}
	for _, a := range report.Assets {
		if a.OK() && !a.Cached {
			mon.LogMetric(monitor.MetricLoadTime, float64(a.Duration.Milliseconds()))
		}
	}
	if mb, ok := (monitor.RuntimeHeap{}).HeapMB(); ok {
		mon.LogMetric(monitor.MetricMemoryUsage, mb)
	}
	issues := mon.Check()
	for _, issue := range issues {
		logger.Warn("Performance budget exceeded", "metric", issue.Metric, "value", issue.Value, "budget", issue.Budget)
	}
	return issues
}

func recordHistory(dbPath string, report *loader.Report, cfg *models.PreloadConfig, logger *slog.Logger) {
	var database *db.DB
	var err error
	if dbPath != "" {
		database, err = db.OpenPath(dbPath)
	} else {
		database, err = db.Open()
	}
	if err != nil {
		logger.Warn("Failed to open run history", "error", err)
		return
	}
	defer database.Close()

	if err := database.RecordRun(report, cfg.ManifestPath, cfg.BaseURL); err != nil {
		logger.Warn("Failed to record run", "error", err, "run_id", report.RunID)
		return
	}
	logger.Info("Run recorded", "run_id", report.RunID, "db", database.Path())
}

func summarize(report *loader.Report, retries int) Summary {
	if report == nil {
		return Summary{}
	}
	return Summary{
		RunID:    report.RunID,
		Status:   string(report.Status),
		Device:   report.Device,
		Assets:   fmt.Sprintf("%d/%d loaded", report.Loaded, report.Total),
		Size:     humanize.Bytes(uint64(report.Bytes)),
		Duration: report.Duration().Round(time.Millisecond).String(),
		Retries:  retries,
	}
}

func writeOutput(w io.Writer, format string, out Output) error {
	switch strings.ToLower(format) {
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return fmt.Errorf("unknown --format %q (want yaml or json)", format)
	}
}

func exitFor(report *loader.Report, loadErr error) error {
	if report == nil {
		return cli.Exit(fmt.Sprintf("preload failed: %v", loadErr), ExitFatal)
	}
	switch report.Status {
	case loader.RunSuccess:
		return nil
	case loader.RunDegraded:
		return cli.Exit(fmt.Sprintf("%d secondary asset(s) failed to load", report.Failed), ExitDegraded)
	default:
		return cli.Exit(fmt.Sprintf("preload %s: %v", report.Status, loadErr), ExitFatal)
	}
}
