package scrollsim

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dtnitsch/kanstar-preload/pkg/monitor"
	"github.com/dtnitsch/kanstar-preload/pkg/throttle"
)

// Transition is one mode change, stamped with trace time.
type Transition struct {
	At   time.Duration `json:"at" yaml:"at"`
	From string        `json:"from" yaml:"from"`
	To   string        `json:"to" yaml:"to"`
	FPS  float64       `json:"avg_fps" yaml:"avg_fps"`
}

// Result summarises a replay.
type Result struct {
	Transitions    []Transition    `json:"transitions" yaml:"transitions"`
	FPSSamples     []float64       `json:"fps_samples" yaml:"fps_samples"`
	AverageFPS     float64         `json:"avg_fps" yaml:"avg_fps"`
	HandledScrolls int             `json:"handled_scrolls" yaml:"handled_scrolls"`
	DroppedScrolls int             `json:"dropped_scrolls" yaml:"dropped_scrolls"`
	Degraded       time.Duration   `json:"degraded" yaml:"degraded"`
	FinalMode      string          `json:"final_mode" yaml:"final_mode"`
	FinalTimeScale float64         `json:"final_time_scale" yaml:"final_time_scale"`
	FrameTimeScale float64         `json:"frame_time_scale" yaml:"frame_time_scale"`
	Issues         []monitor.Issue `json:"budget_issues,omitempty" yaml:"budget_issues,omitempty"`
}

type eventKind int

const (
	frameEvent eventKind = iota
	scrollEvent
)

type event struct {
	at   time.Duration
	kind eventKind
}

// recordingTimeline stands in for an animation timeline.
type recordingTimeline struct {
	mu    sync.Mutex
	scale float64
	scrub bool
}

func (r *recordingTimeline) SetTimeScale(f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scale = f
}

func (r *recordingTimeline) SetScrubEnabled(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrub = b
}

// RunOption adjusts the throttler before replay starts.
type RunOption func(*throttle.Throttler)

// WithFPSThreshold replaces the trace's degrade threshold.
func WithFPSThreshold(threshold float64) RunOption {
	return func(th *throttle.Throttler) {
		opts := th.Options()
		opts.FPSThreshold = threshold
		th.Configure(opts)
	}
}

// Run replays tr. The trace must already be valid.
//
// Besides the registered timeline driven by scroll events, a second timeline
// is updated on every frame through OptimizeTimeline; its last time-scale is
// reported as FrameTimeScale.
func Run(tr *Trace, logger *slog.Logger, opts ...RunOption) *Result {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	start := time.Unix(0, 0).UTC()
	clock := newVirtualClock(start)
	mon := monitor.New(monitor.WithClock(clock.Now), monitor.WithLogger(logger))

	res := &Result{}
	var degradedSince time.Duration = -1
	recording := true
	th := throttle.New(mon, nil, tr.Options.ThrottleOptions(),
		throttle.WithClock(clock),
		throttle.WithLogger(logger),
		throttle.WithTransitionHook(func(from, to throttle.Mode) {
			if !recording {
				return
			}
			at := clock.Now().Sub(start)
			res.Transitions = append(res.Transitions, Transition{
				At:   at,
				From: from.String(),
				To:   to.String(),
				FPS:  mon.AverageMetric(monitor.MetricFPS),
			})
			if to == throttle.ModeDegraded {
				degradedSince = at
			} else if from == throttle.ModeDegraded && degradedSince >= 0 {
				res.Degraded += at - degradedSince
				degradedSince = -1
			}
		}))

	for _, opt := range opts {
		opt(th)
	}

	tl := &recordingTimeline{}
	th.Register(tl)
	perFrame := &recordingTimeline{scale: throttle.NormalTimeScale}
	onFrame := th.OptimizeTimeline(perFrame)
	th.Start()

	for _, ev := range buildEvents(tr) {
		clock.AdvanceTo(start.Add(ev.at))
		switch ev.kind {
		case frameEvent:
			mon.RecordFrame(clock.Now())
			onFrame()
		case scrollEvent:
			if th.HandleScroll() {
				res.HandledScrolls++
			} else {
				res.DroppedScrolls++
			}
		}
	}
	clock.AdvanceTo(start.Add(tr.Duration))

	res.FinalMode = th.State().Mode().String()
	tl.mu.Lock()
	res.FinalTimeScale = tl.scale
	tl.mu.Unlock()
	perFrame.mu.Lock()
	res.FrameTimeScale = perFrame.scale
	perFrame.mu.Unlock()
	if degradedSince >= 0 {
		res.Degraded += tr.Duration - degradedSince
	}
	recording = false
	th.Stop()

	for _, s := range mon.Metrics(monitor.MetricFPS) {
		res.FPSSamples = append(res.FPSSamples, s.Value)
	}
	res.AverageFPS = mon.AverageMetric(monitor.MetricFPS)
	res.Issues = mon.Check()
	return res
}

func buildEvents(tr *Trace) []event {
	var events []event
	for _, f := range tr.Frames {
		interval := time.Duration(float64(time.Second) / f.FPS)
		if interval <= 0 {
			interval = time.Nanosecond
		}
		for at := f.From; at < f.To && at <= tr.Duration; at += interval {
			events = append(events, event{at: at, kind: frameEvent})
		}
	}
	for _, s := range tr.Scrolls {
		for at := s.From; at < s.To && at <= tr.Duration; at += s.Every {
			events = append(events, event{at: at, kind: scrollEvent})
		}
	}
	// Frames before scrolls at the same instant.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return events[i].kind < events[j].kind
	})
	return events
}
