package preload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/kanstar-preload/pkg/db"
	"github.com/dtnitsch/kanstar-preload/pkg/loader"
	"github.com/dtnitsch/kanstar-preload/pkg/monitor"
)

func assetServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/images/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	})
	mux.HandleFunc("/missing/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assets.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}

func runPreload(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := &cli.App{
		Name:           "kanstar",
		Writer:         &stdout,
		ErrWriter:      &stderr,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{Name: "preload", Flags: Flags, Action: PreloadAction},
		},
	}
	err := app.Run(append([]string{"kanstar", "preload", "--quiet", "--backoff-base", "1ms"}, args...))
	return &stdout, err
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}

const goodManifest = `
critical:
  BACKGROUND: /images/backgrounds/cosmic-background.png
images:
  HEROES: /images/heroes.png
  SHIP: /images/ship.png
videos:
  PLANET:
    webm: /videos/planet.webm
    mp4: /videos/planet.mp4
    fallback: /images/planet.png
    alt: Rotating planet
`

func TestPreloadAction_Success(t *testing.T) {
	srv := assetServer(t)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	stdout, err := runPreload(t,
		"--manifest", writeManifest(t, goodManifest),
		"--base-url", srv.URL,
		"--device", "desktop",
		"--cache-dir", t.TempDir(),
		"--db", dbPath,
		"--format", "json")
	if code := exitCode(err); code != ExitOK {
		t.Fatalf("exit code = %d (%v), want 0", code, err)
	}

	var out Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode output: %v\n%s", err, stdout.String())
	}
	if out.Summary.Status != "success" {
		t.Errorf("Summary.Status = %q, want success", out.Summary.Status)
	}
	if out.Summary.Assets != "4/4 loaded" {
		t.Errorf("Summary.Assets = %q, want 4/4 loaded", out.Summary.Assets)
	}
	if out.Summary.Device != "desktop" {
		t.Errorf("Summary.Device = %q, want desktop", out.Summary.Device)
	}

	database, err := db.OpenPath(dbPath)
	if err != nil {
		t.Fatalf("OpenPath() error = %v", err)
	}
	defer database.Close()
	run, err := database.GetRun(out.Summary.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Loaded != 4 || run.BaseURL != srv.URL {
		t.Errorf("recorded run = %+v", run)
	}
}

func TestPreloadAction_ExitCodes(t *testing.T) {
	srv := assetServer(t)

	tests := []struct {
		name     string
		manifest string
		extra    []string
		want     int
	}{
		{
			name: "secondary failure is degraded",
			manifest: `
critical:
  BACKGROUND: /images/bg.png
images:
  SHIP: /missing/ship.png
`,
			want: ExitDegraded,
		},
		{
			name: "critical failure is fatal",
			manifest: `
critical:
  BACKGROUND: /missing/bg.png
images:
  SHIP: /images/ship.png
`,
			extra: []string{"--screen-retries", "1"},
			want:  ExitFatal,
		},
		{
			name:     "unknown format",
			manifest: goodManifest,
			extra:    []string{"--format", "xml"},
			want:     ExitFatal,
		},
		{
			name: "immediate back-off",
			manifest: `
critical:
  BACKGROUND: /images/bg.png
images:
  SHIP: /missing/ship.png
`,
			extra: []string{"--backoff", "immediate"},
			want:  ExitDegraded,
		},
		{
			name:     "unknown back-off",
			manifest: goodManifest,
			extra:    []string{"--backoff", "exponential"},
			want:     ExitFatal,
		},
		{
			name:     "unknown device",
			manifest: goodManifest,
			extra:    []string{"--device", "tablet"},
			want:     ExitFatal,
		},
		{
			name:     "empty manifest",
			manifest: "critical: {}\n",
			want:     ExitFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{
				"--manifest", writeManifest(t, tt.manifest),
				"--base-url", srv.URL,
				"--max-retries", "1",
				"--no-history",
			}, tt.extra...)
			_, err := runPreload(t, args...)
			if got := exitCode(err); got != tt.want {
				t.Errorf("exit code = %d (%v), want %d", got, err, tt.want)
			}
		})
	}
}

func TestPreloadAction_MissingManifestFlag(t *testing.T) {
	_, err := runPreload(t, "--no-history")
	if got := exitCode(err); got != ExitFatal {
		t.Errorf("exit code = %d, want %d", got, ExitFatal)
	}
}

func TestBudgetIssues_LoadTime(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	report := &loader.Report{Assets: []loader.AssetResult{
		{Key: "BACKGROUND", Duration: 6 * time.Second},
		{Key: "SHIP", Duration: 7 * time.Second},
		{Key: "HEROES", Duration: 10 * time.Second, Cached: true},
		{Key: "DEBRIS", Duration: 30 * time.Second, Err: errors.New("timeout")},
	}}

	var loadTime *monitor.Issue
	for _, issue := range budgetIssues(monitor.New(), report, logger) {
		if issue.Metric == monitor.MetricLoadTime {
			loadTime = &issue
		}
	}
	if loadTime == nil {
		t.Fatal("budgetIssues() reported no LoadTime issue")
	}
	if loadTime.Value != 6500 {
		t.Errorf("LoadTime value = %v, want 6500 (cached and failed assets excluded)", loadTime.Value)
	}
}

func TestWatchBudgets_StopsSampling(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mon := monitor.New(monitor.WithFrameSource(monitor.TickerSource{Interval: time.Millisecond}))

	stop := watchBudgets(context.Background(), mon, logger)
	deadline := time.Now().Add(time.Second)
	for !mon.Running() {
		if time.Now().After(deadline) {
			t.Fatal("monitor never started")
		}
		time.Sleep(time.Millisecond)
	}
	stop()
	if mon.Running() {
		t.Error("Running() = true after stop")
	}
}
