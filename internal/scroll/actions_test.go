package scroll

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/kanstar-preload/pkg/scrollsim"
)

const trace = `
duration: 3s
frames:
  - {from: 0s, to: 3s, fps: 20}
scrolls:
  - {from: 1500ms, to: 2s, every: 20ms}
`

func runSim(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.yaml")
	if err := os.WriteFile(path, []byte(trace), 0o644); err != nil {
		t.Fatalf("failed to write trace: %v", err)
	}
	var out bytes.Buffer
	app := &cli.App{
		Name:           "kanstar",
		Writer:         &out,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands:       []*cli.Command{{Name: "scroll-sim", Flags: Flags, Action: ScrollSimAction}},
	}
	err := app.Run(append([]string{"kanstar", "scroll-sim", "--quiet", "--trace", path}, args...))
	return out.String(), err
}

func TestScrollSimAction_Text(t *testing.T) {
	out, err := runSim(t)
	if err != nil {
		t.Fatalf("scroll-sim error = %v", err)
	}
	for _, want := range []string{"scrolling  degraded", "degraded   idle", "25 handled, 0 dropped", "Final mode:    idle"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestScrollSimAction_ThresholdOverride(t *testing.T) {
	out, err := runSim(t, "--fps-threshold", "10", "--format", "yaml")
	if err != nil {
		t.Fatalf("scroll-sim error = %v", err)
	}
	var res scrollsim.Result
	if err := yaml.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	for _, tr := range res.Transitions {
		if tr.To == "degraded" {
			t.Errorf("degraded with threshold 10 at 20fps: %+v", res.Transitions)
		}
	}
}

func TestScrollSimAction_BadFormat(t *testing.T) {
	if _, err := runSim(t, "--format", "xml"); err == nil {
		t.Error("scroll-sim error = nil, want error")
	}
}
