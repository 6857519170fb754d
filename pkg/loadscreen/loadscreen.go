// Package loadscreen is the loading-screen side of a preload run: it turns
// loader progress into {percent, tip} updates, fires the completion callback
// once, and offers a retry after a critical failure.
package loadscreen

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dtnitsch/kanstar-preload/models"
	"github.com/dtnitsch/kanstar-preload/pkg/loader"
)

// Tips rotate under the progress bar.
var Tips = []string{
	"Preparing your cosmic journey...",
	"Summoning the Kanstar heroes...",
	"Initializing stellar coordinates...",
	"Charging quantum engines...",
	"Synchronizing universal frequencies...",
}

const (
	TipInterval = 3 * time.Second
	barWidth    = 40
)

var (
	filledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9B5DE5"))
	emptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3A3A5C"))
	pctStyle    = lipgloss.NewStyle().Bold(true)
	tipStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#A0A0C0"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
)

// Update is what the view renders.
type Update struct {
	ProgressPercent float64
	CurrentTip      string
	Err             error
}

// ManifestLoader runs one full load. *loader.Loader satisfies it.
type ManifestLoader interface {
	LoadManifest(ctx context.Context, m *models.AssetManifest) (*loader.Report, error)
}

// Option configures a Screen.
type Option func(*Screen)

// WithErrorHandler is called when critical assets could not be loaded.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Screen) { s.onError = fn }
}

// WithSink receives every view update while mounted.
func WithSink(fn func(Update)) Option {
	return func(s *Screen) { s.sink = fn }
}

// WithTipInterval overrides TipInterval.
func WithTipInterval(d time.Duration) Option {
	return func(s *Screen) { s.tipInterval = d }
}

// Screen is mounted for the lifetime of the loading view.
type Screen struct {
	onLoadComplete func(*loader.Report)
	onError        func(error)
	sink           func(Update)
	tipInterval    time.Duration

	mu        sync.Mutex
	mounted   bool
	progress  float64
	tip       int
	completed bool
	err       error
	stopTips  context.CancelFunc
	tipsDone  chan struct{}
}

// New builds an unmounted screen. onLoadComplete fires at most once.
func New(onLoadComplete func(*loader.Report), opts ...Option) *Screen {
	s := &Screen{
		onLoadComplete: onLoadComplete,
		tipInterval:    TipInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mount starts tip rotation and enables updates.
func (s *Screen) Mount(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mounted {
		return
	}
	s.mounted = true
	ctx, cancel := context.WithCancel(ctx)
	s.stopTips = cancel
	s.tipsDone = make(chan struct{})
	go s.rotateTips(ctx, s.tipsDone)
}

// Unmount stops tip rotation. Updates that arrive afterwards are discarded.
func (s *Screen) Unmount() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	s.mounted = false
	cancel, done := s.stopTips, s.tipsDone
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Screen) rotateTips(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.tipInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			if !s.mounted {
				s.mu.Unlock()
				return
			}
			s.tip = (s.tip + 1) % len(Tips)
			u := s.snapshotLocked()
			s.mu.Unlock()
			s.emit(u)
		}
	}
}

// Hooks wires the screen into a loader.
func (s *Screen) Hooks() loader.Hooks {
	return loader.Hooks{
		OnProgress:     s.setProgress,
		OnLoadComplete: s.complete,
		OnError:        s.fail,
	}
}

func (s *Screen) setProgress(p loader.Progress) {
	s.mu.Lock()
	if !s.mounted || p.Percent() < s.progress {
		s.mu.Unlock()
		return
	}
	s.progress = p.Percent()
	u := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(u)
}

func (s *Screen) complete(r *loader.Report) {
	s.mu.Lock()
	if !s.mounted || s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	s.mu.Unlock()
	if s.onLoadComplete != nil {
		s.onLoadComplete(r)
	}
}

func (s *Screen) fail(err error) {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	s.err = err
	u := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(u)
	if s.onError != nil {
		s.onError(err)
	}
}

// Retry clears the error state and re-runs the whole load sequence.
func (s *Screen) Retry(ctx context.Context, l ManifestLoader, m *models.AssetManifest) (*loader.Report, error) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return nil, fmt.Errorf("loading already completed")
	}
	s.err = nil
	s.progress = 0
	u := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(u)

	return l.LoadManifest(ctx, m)
}

// Snapshot returns the current view state.
func (s *Screen) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Completed reports whether onLoadComplete has fired.
func (s *Screen) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Err is the critical failure shown with the retry affordance, if any.
func (s *Screen) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Screen) snapshotLocked() Update {
	return Update{ProgressPercent: s.progress, CurrentTip: Tips[s.tip], Err: s.err}
}

func (s *Screen) emit(u Update) {
	if s.sink != nil {
		s.sink(u)
	}
}

// Render draws an update as a single terminal line.
func Render(u Update) string {
	if u.Err != nil {
		return errStyle.Render("Failed to load critical assets") + " " + u.Err.Error() + " (retry available)"
	}
	pct := math.Max(0, math.Min(100, u.ProgressPercent))
	filled := int(math.Round(pct / 100 * barWidth))
	bar := filledStyle.Render(strings.Repeat("█", filled)) + emptyStyle.Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %s  %s", bar, pctStyle.Render(fmt.Sprintf("%3.0f%%", pct)), tipStyle.Render(u.CurrentTip))
}
