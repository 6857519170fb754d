package monitor

import (
	"context"
	"runtime"
	"time"
)

// FrameSource delivers one timestamp per rendered frame.
// The channel closes when ctx is done.
type FrameSource interface {
	Frames(ctx context.Context) <-chan time.Time
}

// TickerSource emits frames at a fixed interval, standing in for a display refresh.
type TickerSource struct {
	Interval time.Duration
}

// Frames implements FrameSource.
func (s TickerSource) Frames(ctx context.Context) <-chan time.Time {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second / 60
	}
	ch := make(chan time.Time)
	go func() {
		defer close(ch)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ts := <-t.C:
				select {
				case ch <- ts:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

// HeapSampler reports heap usage in MB. ok is false when the platform cannot tell.
type HeapSampler interface {
	HeapMB() (mb float64, ok bool)
}

// RuntimeHeap samples the Go runtime heap.
type RuntimeHeap struct{}

// HeapMB implements HeapSampler.
func (RuntimeHeap) HeapMB() (float64, bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / 1048576, true
}
