package loader

import (
	"time"

	"github.com/dtnitsch/kanstar-preload/models"
)

// RunStatus distinguishes a clean run, a run with missing secondary assets
// and a run whose critical tier could not be loaded.
type RunStatus string

const (
	RunSuccess         RunStatus = "success"
	RunDegraded        RunStatus = "degraded"
	RunCriticalFailure RunStatus = "critical_failure"
	RunCancelled       RunStatus = "cancelled"
)

// AssetResult is the settled outcome of one manifest entry.
type AssetResult struct {
	Key       string        `json:"key" yaml:"key"`
	URL       string        `json:"url" yaml:"url"`
	Tier      models.Tier   `json:"tier" yaml:"tier"`
	Attempts  int           `json:"attempts" yaml:"attempts"`
	SizeBytes int64         `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	Cached    bool          `json:"cached,omitempty" yaml:"cached,omitempty"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration_ns"`
	Err       error         `json:"-" yaml:"-"`
	ErrorType string        `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the asset loaded.
func (r AssetResult) OK() bool { return r.Err == nil }

// Report summarises one LoadManifest run.
type Report struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Device     string        `json:"device" yaml:"device"`
	Status     RunStatus     `json:"status" yaml:"status"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
	Total      int           `json:"total" yaml:"total"`
	Loaded     int           `json:"loaded" yaml:"loaded"`
	Failed     int           `json:"failed" yaml:"failed"`
	Bytes      int64         `json:"bytes" yaml:"bytes"`
	Assets     []AssetResult `json:"assets" yaml:"assets"`
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failures returns the assets that exhausted retries, in settle order.
func (r *Report) Failures() []AssetResult {
	var out []AssetResult
	for _, a := range r.Assets {
		if !a.OK() {
			out = append(out, a)
		}
	}
	return out
}

func (r *Report) add(res AssetResult) {
	if res.Err != nil {
		res.ErrorType = errorType(res.Err)
		res.Error = res.Err.Error()
		r.Failed++
	} else {
		r.Loaded++
		r.Bytes += res.SizeBytes
	}
	r.Assets = append(r.Assets, res)
}
