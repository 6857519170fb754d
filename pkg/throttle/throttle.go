// Package throttle degrades animation fidelity while the page scrolls at a
// low frame rate and restores it once scrolling settles.
package throttle

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dtnitsch/kanstar-preload/pkg/monitor"
)

// MetricSource supplies rolling averages. *monitor.Monitor satisfies it.
type MetricSource interface {
	AverageMetric(name monitor.MetricName) float64
}

// Timeline is an animation sequence the throttler can slow down.
// Implementations must not call back into the Throttler.
type Timeline interface {
	SetTimeScale(factor float64)
	SetScrubEnabled(enabled bool)
}

// Options are the recognised throttler settings.
type Options struct {
	DebounceDelay   time.Duration // quiet time before a scroll burst is over
	ThrottleDelay   time.Duration // minimum gap between handled scroll events
	DisableOnLowFPS bool          // gate for the degraded transition
	FPSThreshold    float64       // degrade below this average FPS
}

// DefaultOptions returns the page-level defaults.
func DefaultOptions() Options {
	return Options{
		DebounceDelay:   150 * time.Millisecond,
		ThrottleDelay:   16 * time.Millisecond,
		DisableOnLowFPS: true,
		FPSThreshold:    30,
	}
}

// Option configures a Throttler.
type Option func(*Throttler)

// WithClock replaces the wall clock and timers.
func WithClock(c Clock) Option {
	return func(t *Throttler) { t.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Throttler) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTransitionHook is called after every mode change.
func WithTransitionHook(fn func(from, to Mode)) Option {
	return func(t *Throttler) { t.onTransition = fn }
}

// Throttler drives the Idle -> Scrolling -> Degraded -> Idle state machine.
type Throttler struct {
	metrics      MetricSource
	state        *ThrottleState
	clock        Clock
	logger       *slog.Logger
	onTransition func(from, to Mode)

	mu         sync.Mutex
	opts       Options
	timelines  []Timeline
	started    bool
	lastScroll time.Time
	debounce   Timer
	generation uint64
}

// New builds a stopped Throttler writing to state.
func New(metrics MetricSource, state *ThrottleState, opts Options, options ...Option) *Throttler {
	if state == nil {
		state = NewThrottleState()
	}
	t := &Throttler{
		metrics: metrics,
		state:   state,
		clock:   realClock{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		opts:    opts,
	}
	for _, o := range options {
		o(t)
	}
	return t
}

// State returns the shared handle the throttler writes.
func (t *Throttler) State() *ThrottleState { return t.state }

// Configure replaces the options. A pending debounce keeps its original delay.
func (t *Throttler) Configure(opts Options) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opts = opts
}

// Options returns the active options.
func (t *Throttler) Options() Options {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opts
}

// Register adds a timeline and brings it in line with the current state.
func (t *Throttler) Register(tl Timeline) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timelines = append(t.timelines, tl)
	degraded := t.state.Mode() == ModeDegraded
	tl.SetTimeScale(t.state.TimeScale())
	tl.SetScrubEnabled(!degraded)
}

// Start begins accepting scroll events. Idempotent.
func (t *Throttler) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
}

// Stop ignores further scroll events, cancels a pending debounce and restores
// normal fidelity if a burst was in progress. Idempotent.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.started = false
	if t.debounce != nil {
		t.debounce.Stop()
		t.debounce = nil
	}
	t.generation++
	if t.state.Mode() != ModeIdle {
		t.recoverLocked()
	}
}

// HandleScroll processes one scroll event. It returns false when the event
// was dropped by the throttle delay or the throttler is stopped.
func (t *Throttler) HandleScroll() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return false
	}

	now := t.clock.Now()
	if !t.lastScroll.IsZero() && now.Sub(t.lastScroll) < t.opts.ThrottleDelay {
		return false
	}
	t.lastScroll = now

	if t.state.Mode() == ModeIdle {
		t.transitionLocked(ModeScrolling, NormalTimeScale, NormalSyncInterval)
	}

	if t.opts.DisableOnLowFPS && t.state.Mode() != ModeDegraded {
		fps := t.metrics.AverageMetric(monitor.MetricFPS)
		if fps < t.opts.FPSThreshold {
			t.logger.Warn("Degrading animations during scroll", "fps", fps, "threshold", t.opts.FPSThreshold)
			t.transitionLocked(ModeDegraded, DegradedTimeScale, DegradedSyncInterval)
			for _, tl := range t.timelines {
				tl.SetTimeScale(DegradedTimeScale)
				tl.SetScrubEnabled(false)
			}
		}
	}

	if t.debounce != nil {
		t.debounce.Stop()
	}
	t.generation++
	gen := t.generation
	t.debounce = t.clock.AfterFunc(t.opts.DebounceDelay, func() { t.onScrollEnd(gen) })
	return true
}

// OptimizeTimeline returns an update callback for tl: on each call it sets
// tl's time-scale from the current average FPS. With no samples the average
// is 0, which counts as below the threshold.
func (t *Throttler) OptimizeTimeline(tl Timeline) func() {
	return func() {
		threshold := t.Options().FPSThreshold
		fps := t.metrics.AverageMetric(monitor.MetricFPS)
		if fps < threshold {
			tl.SetTimeScale(DegradedTimeScale)
		} else {
			tl.SetTimeScale(NormalTimeScale)
		}
	}
}

func (t *Throttler) onScrollEnd(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		return
	}
	t.debounce = nil
	t.recoverLocked()
}

// recoverLocked is the single exit from Scrolling/Degraded.
func (t *Throttler) recoverLocked() {
	t.transitionLocked(ModeIdle, NormalTimeScale, NormalSyncInterval)
	for _, tl := range t.timelines {
		tl.SetTimeScale(NormalTimeScale)
		tl.SetScrubEnabled(true)
	}
}

func (t *Throttler) transitionLocked(to Mode, scale float64, interval time.Duration) {
	from := t.state.Mode()
	t.state.set(to, scale, interval)
	if from != to {
		t.logger.Debug("Scroll mode changed", "from", from, "to", to)
		if t.onTransition != nil {
			t.onTransition(from, to)
		}
	}
}
