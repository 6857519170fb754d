// Package scrollsim replays a recorded frame/scroll trace through a
// PerformanceMonitor and a ScrollPerformanceThrottler on a virtual clock.
package scrollsim

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/kanstar-preload/pkg/throttle"
)

// Trace describes what the page did: how fast it rendered and when the user scrolled.
type Trace struct {
	Duration time.Duration  `yaml:"duration"`
	Options  TraceOptions   `yaml:"options"`
	Frames   []FrameSegment `yaml:"frames"`
	Scrolls  []ScrollBurst  `yaml:"scrolls"`
}

// TraceOptions override throttle.DefaultOptions. Zero values keep the default.
type TraceOptions struct {
	DebounceDelay   time.Duration `yaml:"debounce_delay"`
	ThrottleDelay   time.Duration `yaml:"throttle_delay"`
	DisableOnLowFPS *bool         `yaml:"disable_on_low_fps"`
	FPSThreshold    float64       `yaml:"fps_threshold"`
}

// FrameSegment renders frames at a steady rate over [From, To).
type FrameSegment struct {
	From time.Duration `yaml:"from"`
	To   time.Duration `yaml:"to"`
	FPS  float64       `yaml:"fps"`
}

// ScrollBurst fires a scroll event every Every over [From, To).
type ScrollBurst struct {
	From  time.Duration `yaml:"from"`
	To    time.Duration `yaml:"to"`
	Every time.Duration `yaml:"every"`
}

// LoadTrace reads and validates a YAML trace file.
func LoadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	var tr Trace
	if err := yaml.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse trace: %w", err)
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return &tr, nil
}

// Validate rejects empty or inverted ranges and non-positive rates.
func (tr *Trace) Validate() error {
	var errs []error
	if tr.Duration <= 0 {
		errs = append(errs, errors.New("duration must be positive"))
	}
	for i, f := range tr.Frames {
		if f.FPS <= 0 {
			errs = append(errs, fmt.Errorf("frames[%d]: fps must be positive", i))
		}
		if f.To <= f.From {
			errs = append(errs, fmt.Errorf("frames[%d]: to must be after from", i))
		}
	}
	for i, s := range tr.Scrolls {
		if s.Every <= 0 {
			errs = append(errs, fmt.Errorf("scrolls[%d]: every must be positive", i))
		}
		if s.To <= s.From {
			errs = append(errs, fmt.Errorf("scrolls[%d]: to must be after from", i))
		}
	}
	return errors.Join(errs...)
}

// ThrottleOptions merges the trace overrides onto the defaults.
func (o TraceOptions) ThrottleOptions() throttle.Options {
	opts := throttle.DefaultOptions()
	if o.DebounceDelay > 0 {
		opts.DebounceDelay = o.DebounceDelay
	}
	if o.ThrottleDelay > 0 {
		opts.ThrottleDelay = o.ThrottleDelay
	}
	if o.DisableOnLowFPS != nil {
		opts.DisableOnLowFPS = *o.DisableOnLowFPS
	}
	if o.FPSThreshold > 0 {
		opts.FPSThreshold = o.FPSThreshold
	}
	return opts
}
