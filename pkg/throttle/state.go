package throttle

import (
	"sync"
	"time"
)

// Mode is the throttler's position in its per-session state machine.
type Mode int

const (
	ModeIdle Mode = iota
	ModeScrolling
	ModeDegraded // sub-state of scrolling
)

func (m Mode) String() string {
	switch m {
	case ModeScrolling:
		return "scrolling"
	case ModeDegraded:
		return "degraded"
	default:
		return "idle"
	}
}

const (
	NormalTimeScale   = 1.0
	DegradedTimeScale = 0.5

	NormalSyncInterval   = time.Second * 1667 / 100000 // ~60 updates/s
	DegradedSyncInterval = time.Second * 3333 / 100000 // ~30 updates/s
)

// ThrottleState is the single page-wide animation time-scale plus the
// scrolling flag. One instance is shared by every timeline consumer; only the
// Throttler writes it.
type ThrottleState struct {
	mu           sync.RWMutex
	timeScale    float64
	syncInterval time.Duration
	mode         Mode
}

// NewThrottleState returns a state at normal fidelity.
func NewThrottleState() *ThrottleState {
	return &ThrottleState{
		timeScale:    NormalTimeScale,
		syncInterval: NormalSyncInterval,
	}
}

// TimeScale is the effective playback multiplier for every timeline.
func (s *ThrottleState) TimeScale() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeScale
}

// SyncInterval is how often scroll-linked triggers should re-evaluate.
func (s *ThrottleState) SyncInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncInterval
}

// Scrolling reports whether a scroll burst is in progress.
func (s *ThrottleState) Scrolling() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode != ModeIdle
}

// Mode returns the current state machine position.
func (s *ThrottleState) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *ThrottleState) set(mode Mode, scale float64, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.timeScale = scale
	s.syncInterval = interval
}
