package loader

// LoadStatus is the lifecycle position of a single asset.
type LoadStatus string

const (
	StatusPending LoadStatus = "pending"
	StatusLoading LoadStatus = "loading"
	StatusLoaded  LoadStatus = "loaded"
	StatusFailed  LoadStatus = "failed"
)

// LoadState describes one asset: pending -> loading -> loaded, or
// pending -> loading -> failed(attempt) -> loading -> ... -> failed(final).
type LoadState struct {
	Status   LoadStatus
	Attempts int
	Final    bool // set once retries are exhausted
	LastErr  error
}

// Settled reports whether the asset reached a terminal state.
func (s LoadState) Settled() bool {
	return s.Status == StatusLoaded || (s.Status == StatusFailed && s.Final)
}

// Progress is the loading-screen view of a run.
type Progress struct {
	Settled int
	Total   int
}

// Percent is settled/total scaled to 0..100. An empty manifest is complete.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Settled) * 100 / float64(p.Total)
}

// Done reports whether every asset has settled.
func (p Progress) Done() bool {
	return p.Settled >= p.Total
}
