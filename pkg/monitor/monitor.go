// Package monitor samples frame rate, frame time and heap usage into a
// bounded buffer so adaptive behaviour can read cheap rolling averages.
package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// MetricName identifies a performance series.
type MetricName string

const (
	MetricFPS               MetricName = "FPS"
	MetricFrameTime         MetricName = "FrameTime"
	MetricMemoryUsage       MetricName = "MemoryUsage"
	MetricLoadTime          MetricName = "LoadTime"
	MetricAnimationDuration MetricName = "AnimationDuration"
)

// MaxSamples is the ring buffer capacity.
const MaxSamples = 1000

// Sample is one timestamped measurement.
type Sample struct {
	Name      MetricName `json:"name" yaml:"name"`
	Value     float64    `json:"value" yaml:"value"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
}

// Budgets are the thresholds Check compares averages against.
type Budgets struct {
	FPSMin               float64 `yaml:"fps_min"`
	FrameTimeMax         float64 `yaml:"frame_time_max_ms"`
	MemoryMax            float64 `yaml:"memory_max_mb"`
	LoadTimeMax          float64 `yaml:"load_time_max_ms"`
	AnimationDurationMax float64 `yaml:"animation_duration_max_ms"`
}

// DefaultBudgets target 60fps.
var DefaultBudgets = Budgets{
	FPSMin:               55,
	FrameTimeMax:         16.67,
	MemoryMax:            100,
	LoadTimeMax:          5000,
	AnimationDurationMax: 300,
}

// Issue is a budget violation found by Check.
type Issue struct {
	Metric MetricName `json:"metric" yaml:"metric"`
	Value  float64    `json:"value" yaml:"value"`
	Budget float64    `json:"budget" yaml:"budget"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithFrameSource sets the per-frame callback source. Without one, Start is a no-op.
func WithFrameSource(s FrameSource) Option {
	return func(m *Monitor) { m.source = s }
}

// WithHeapSampler enables memory sampling.
func WithHeapSampler(h HeapSampler) Option {
	return func(m *Monitor) { m.heap = h }
}

// WithBudgets overrides DefaultBudgets.
func WithBudgets(b Budgets) Option {
	return func(m *Monitor) { m.budgets = b }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides time.Now for sample timestamps and the start anchor.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor is safe for concurrent use.
type Monitor struct {
	samples *RingBuffer[Sample]
	source  FrameSource
	heap    HeapSampler
	budgets Budgets
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	frameCount int
	anchor     time.Time
}

// New builds an idle Monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		samples: NewRingBuffer[Sample](MaxSamples),
		budgets: DefaultBudgets,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins the sampling loop. Calling it while running, or without a
// frame source, does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.start(ctx)
}

// start reports whether this call launched the loop.
func (m *Monitor) start(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.source == nil {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.frameCount = 0
	m.anchor = m.now()

	go m.loop(ctx, m.source.Frames(ctx), m.done)
	return true
}

// Stop halts the loop and waits for it to exit. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the sampling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context, frames <-chan time.Time, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ts, ok := <-frames:
			if !ok {
				return
			}
			m.RecordFrame(ts)
		}
	}
}

// RecordFrame counts one frame. Once a second or more has passed since the
// anchor, it logs FPS and FrameTime for the window and re-anchors. The first
// frame recorded without Start becomes the anchor and is not counted.
func (m *Monitor) RecordFrame(ts time.Time) {
	m.mu.Lock()
	if m.anchor.IsZero() {
		m.anchor = ts
		m.mu.Unlock()
		return
	}
	m.frameCount++
	elapsed := ts.Sub(m.anchor)
	var fps, frameTime float64
	flush := elapsed >= time.Second
	if flush {
		elapsedMs := float64(elapsed) / float64(time.Millisecond)
		fps = float64(m.frameCount) * 1000 / elapsedMs
		frameTime = elapsedMs / float64(m.frameCount)
		m.frameCount = 0
		m.anchor = ts
	}
	m.mu.Unlock()

	if flush {
		m.LogMetric(MetricFPS, fps)
		m.LogMetric(MetricFrameTime, frameTime)
	}
	if m.heap != nil {
		if mb, ok := m.heap.HeapMB(); ok {
			m.LogMetric(MetricMemoryUsage, mb)
		}
	}
}

// LogMetric appends a sample, evicting the oldest beyond MaxSamples.
func (m *Monitor) LogMetric(name MetricName, value float64) {
	m.samples.WriteOne(Sample{Name: name, Value: value, Timestamp: m.now()})
	if name == MetricFPS && value < m.budgets.FPSMin {
		m.logger.Warn("Low FPS detected", "fps", value)
	}
}

// Metrics returns retained samples for name, oldest first. An empty name returns every sample.
func (m *Monitor) Metrics(name MetricName) []Sample {
	all := m.samples.ReadAll()
	if name == "" {
		return all
	}
	var out []Sample
	for _, s := range all {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// AverageMetric is the mean of the retained samples for name, or 0 when there are none.
func (m *Monitor) AverageMetric(name MetricName) float64 {
	var sum float64
	var n int
	for _, s := range m.samples.ReadAll() {
		if s.Name == name {
			sum += s.Value
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ClearMetrics drops every retained sample.
func (m *Monitor) ClearMetrics() {
	m.samples.Clear()
}

// Check compares current averages against the budgets. Series with no
// samples are skipped so an idle monitor reports nothing.
func (m *Monitor) Check() []Issue {
	var issues []Issue
	if fps := m.Metrics(MetricFPS); len(fps) > 0 {
		if avg := m.AverageMetric(MetricFPS); avg < m.budgets.FPSMin {
			issues = append(issues, Issue{Metric: MetricFPS, Value: avg, Budget: m.budgets.FPSMin})
		}
	}
	if avg := m.AverageMetric(MetricMemoryUsage); avg > m.budgets.MemoryMax {
		issues = append(issues, Issue{Metric: MetricMemoryUsage, Value: avg, Budget: m.budgets.MemoryMax})
	}
	if avg := m.AverageMetric(MetricFrameTime); avg > m.budgets.FrameTimeMax {
		issues = append(issues, Issue{Metric: MetricFrameTime, Value: avg, Budget: m.budgets.FrameTimeMax})
	}
	if avg := m.AverageMetric(MetricLoadTime); avg > m.budgets.LoadTimeMax {
		issues = append(issues, Issue{Metric: MetricLoadTime, Value: avg, Budget: m.budgets.LoadTimeMax})
	}
	if avg := m.AverageMetric(MetricAnimationDuration); avg > m.budgets.AnimationDurationMax {
		issues = append(issues, Issue{Metric: MetricAnimationDuration, Value: avg, Budget: m.budgets.AnimationDurationMax})
	}
	return issues
}

// Watch starts the monitor and runs Check every interval until ctx is done,
// passing each issue to onIssue. On return it stops the loop only if this
// call started it; a loop owned by an earlier Start keeps running.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, onIssue func(Issue)) {
	if m.start(ctx) {
		defer m.Stop()
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, issue := range m.Check() {
				if onIssue != nil {
					onIssue(issue)
				}
			}
		}
	}
}
