package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dtnitsch/kanstar-preload/models"
)

// fakeFetcher fails each URL a configured number of times before succeeding.
// A negative count fails forever.
type fakeFetcher struct {
	mu          sync.Mutex
	failures    map[string]int
	calls       map[string]int
	order       []string
	inflight    int
	maxInflight int
	hold        time.Duration
	block       bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) FetchAsset(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	f.order = append(f.order, url)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	remaining := f.failures[url]
	if remaining > 0 {
		f.failures[url] = remaining - 1
	}
	block, hold := f.block, f.hold
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if hold > 0 {
		time.Sleep(hold)
	}
	if remaining != 0 {
		return nil, errors.New("404 not found")
	}
	return []byte("\x89PNG"), nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// recordSleep captures requested delays without waiting.
type recordSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) Get(url string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.data[url]
	return d, ok
}

func (c *mapCache) Set(url string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[url] = data
	return nil
}

func desktop(batch int) models.DeviceProfile {
	p := models.ProfileFor(models.DeviceDesktop)
	p.BatchSize = batch
	return p
}

func TestPreload_InvalidURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "empty", url: ""},
		{name: "whitespace", url: "   "},
		{name: "relative path", url: "/images/ship.png"},
		{name: "unsupported scheme", url: "ftp://cdn.example.com/ship.png"},
		{name: "malformed", url: "http://%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			l := New(f)
			err := l.Preload(context.Background(), tt.url)
			if !errors.Is(err, ErrInvalidURL) {
				t.Fatalf("Preload(%q) error = %v, want ErrInvalidURL", tt.url, err)
			}
			if len(f.order) != 0 {
				t.Errorf("Preload(%q) made %d requests, want 0", tt.url, len(f.order))
			}
		})
	}
}

func TestPreload_Timeout(t *testing.T) {
	f := newFakeFetcher()
	f.block = true
	profile := desktop(2)
	profile.Timeout = 20 * time.Millisecond
	l := New(f, WithProfile(profile))

	err := l.Preload(context.Background(), "https://cdn.example.com/bg.png")
	var timeout *AssetTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Preload() error = %v, want AssetTimeoutError", err)
	}
	if timeout.Timeout != profile.Timeout {
		t.Errorf("Timeout = %s, want %s", timeout.Timeout, profile.Timeout)
	}
	if !IsRetryable(err) {
		t.Error("timeout should be retryable")
	}
}

func TestPreload_LoadError(t *testing.T) {
	f := newFakeFetcher()
	url := "https://cdn.example.com/missing.png"
	f.failures[url] = -1
	l := New(f)

	err := l.Preload(context.Background(), url)
	var loadErr *AssetLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Preload() error = %v, want AssetLoadError", err)
	}
	if got := l.State(url); got.Status != StatusFailed || got.Final {
		t.Errorf("State() = %+v, want non-final failure", got)
	}
}

func TestPreloadWithRetry_AttemptBound(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		wantAttempts int
		wantErr      bool
		wantDelays   []time.Duration
	}{
		{name: "succeeds first try", failures: 0, wantAttempts: 1},
		{name: "succeeds on third try", failures: 2, wantAttempts: 3, wantDelays: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}},
		{name: "permanent failure", failures: -1, wantAttempts: 1 + MaxRetries, wantErr: true,
			wantDelays: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "https://cdn.example.com/hero.png"
			f := newFakeFetcher()
			f.failures[url] = tt.failures
			rec := &recordSleep{}
			l := New(f,
				WithBackoff(Backoff{Mode: models.BackoffLinear, Base: 100 * time.Millisecond}),
				WithSleep(rec.sleep),
			)

			attempts, err := l.PreloadWithRetry(context.Background(), url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PreloadWithRetry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if got := f.callCount(url); got != tt.wantAttempts {
				t.Errorf("fetch calls = %d, want %d", got, tt.wantAttempts)
			}
			require.Equal(t, tt.wantDelays, rec.delays)

			state := l.State(url)
			if tt.wantErr && (state.Status != StatusFailed || !state.Final) {
				t.Errorf("State() = %+v, want final failure", state)
			}
			if !tt.wantErr && state.Status != StatusLoaded {
				t.Errorf("State() = %+v, want loaded", state)
			}
			if state.Attempts != tt.wantAttempts {
				t.Errorf("State().Attempts = %d, want %d", state.Attempts, tt.wantAttempts)
			}
		})
	}
}

func TestPreloadWithRetry_InvalidURLNotRetried(t *testing.T) {
	rec := &recordSleep{}
	l := New(newFakeFetcher(), WithSleep(rec.sleep))

	attempts, err := l.PreloadWithRetry(context.Background(), "")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("error = %v, want ErrInvalidURL", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(rec.delays) != 0 {
		t.Errorf("slept %v, want no back-off", rec.delays)
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name  string
		b     Backoff
		retry int
		want  time.Duration
	}{
		{name: "linear first", b: Backoff{Mode: models.BackoffLinear, Base: time.Second}, retry: 1, want: time.Second},
		{name: "linear third", b: Backoff{Mode: models.BackoffLinear, Base: time.Second}, retry: 3, want: 3 * time.Second},
		{name: "fixed third", b: Backoff{Mode: models.BackoffFixed, Base: time.Second}, retry: 3, want: time.Second},
		{name: "immediate first", b: Backoff{Mode: models.BackoffImmediate, Base: time.Second}, retry: 1, want: 0},
		{name: "immediate second", b: Backoff{Mode: models.BackoffImmediate, Base: time.Second}, retry: 2, want: time.Second},
		{name: "immediate third", b: Backoff{Mode: models.BackoffImmediate, Base: time.Second}, retry: 3, want: 2 * time.Second},
		{name: "zero retry", b: Backoff{Mode: models.BackoffLinear, Base: time.Second}, retry: 0, want: 0},
		{name: "no base", b: Backoff{Mode: models.BackoffLinear}, retry: 2, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.Delay(tt.retry); got != tt.want {
				t.Errorf("Delay(%d) = %s, want %s", tt.retry, got, tt.want)
			}
		})
	}
}

// progressRecorder collects the values a loading screen would receive.
type progressRecorder struct {
	mu        sync.Mutex
	values    []Progress
	completes int
	errs      []error
}

func (p *progressRecorder) hooks() Hooks {
	return Hooks{
		OnProgress: func(pr Progress) {
			p.mu.Lock()
			p.values = append(p.values, pr)
			p.mu.Unlock()
		},
		OnLoadComplete: func(*Report) {
			p.mu.Lock()
			p.completes++
			p.mu.Unlock()
		},
		OnError: func(err error) {
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
		},
	}
}

func (p *progressRecorder) assertMonotonic(t *testing.T, total int) {
	t.Helper()
	require.Len(t, p.values, total)
	hundreds := 0
	for i, v := range p.values {
		if i > 0 && v.Percent() < p.values[i-1].Percent() {
			t.Errorf("progress decreased at %d: %.1f -> %.1f", i, p.values[i-1].Percent(), v.Percent())
		}
		if v.Percent() == 100 {
			hundreds++
		}
	}
	if hundreds != 1 {
		t.Errorf("100%% reported %d times, want exactly once", hundreds)
	}
	if last := p.values[len(p.values)-1]; !last.Done() {
		t.Errorf("last progress = %+v, want done", last)
	}
}

func TestLoadManifest_AllSucceedDesktopBatches(t *testing.T) {
	m := &models.AssetManifest{
		Critical: map[string]string{"BACKGROUND": "https://cdn.example.com/bg.png"},
		Images: map[string]string{
			"HEROES": "https://cdn.example.com/heroes.png",
			"SHIP":   "https://cdn.example.com/ship.png",
			"DEBRIS": "https://cdn.example.com/debris.png",
		},
	}
	f := newFakeFetcher()
	f.hold = 10 * time.Millisecond
	rec := &progressRecorder{}
	l := New(f, WithProfile(desktop(2)), WithHooks(rec.hooks()))

	report, err := l.LoadManifest(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, RunSuccess, report.Status)
	require.Equal(t, 4, report.Loaded)
	require.Equal(t, 1, rec.completes)
	require.Empty(t, rec.errs)
	rec.assertMonotonic(t, 4)

	if f.maxInflight > 2 {
		t.Errorf("max concurrent loads = %d, want <= 2", f.maxInflight)
	}
	if report.RunID == "" {
		t.Error("report has no run ID")
	}
}

func TestLoadManifest_TierOrdering(t *testing.T) {
	m := &models.AssetManifest{
		Critical: map[string]string{
			"BACKGROUND": "https://cdn.example.com/bg.png",
			"LOGO":       "https://cdn.example.com/logo.png",
		},
		Images: map[string]string{
			"HEROES": "https://cdn.example.com/heroes.png",
			"SHIP":   "https://cdn.example.com/ship.png",
		},
		Videos: map[string]models.VideoAsset{
			"PLANET": {WebM: "https://cdn.example.com/planet.webm", Fallback: "https://cdn.example.com/planet.png"},
		},
	}
	f := newFakeFetcher()
	l := New(f, WithProfile(desktop(3)))

	_, err := l.LoadManifest(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, f.order, 5)

	critical := map[string]bool{"https://cdn.example.com/bg.png": true, "https://cdn.example.com/logo.png": true}
	for i, url := range f.order[:2] {
		if !critical[url] {
			t.Errorf("request %d = %s, want a critical asset first", i, url)
		}
	}
	for _, url := range f.order {
		if url == "https://cdn.example.com/planet.webm" {
			t.Error("video source requested, want only the still fallback")
		}
	}
}

func TestLoadManifest_CriticalExhausted(t *testing.T) {
	bg := "https://cdn.example.com/bg.png"
	m := &models.AssetManifest{
		Critical: map[string]string{"BACKGROUND": bg},
		Images:   map[string]string{"SHIP": "https://cdn.example.com/ship.png"},
	}
	f := newFakeFetcher()
	f.failures[bg] = -1
	rec := &progressRecorder{}
	sleeper := &recordSleep{}
	l := New(f, WithHooks(rec.hooks()), WithSleep(sleeper.sleep))

	report, err := l.LoadManifest(context.Background(), m)
	require.Error(t, err)

	var critical *CriticalAssetExhaustedError
	require.ErrorAs(t, err, &critical)
	require.Equal(t, "BACKGROUND", critical.Key)
	require.Equal(t, 1+MaxRetries, critical.Attempts)
	require.Equal(t, 1+MaxRetries, f.callCount(bg))

	require.Equal(t, RunCriticalFailure, report.Status)
	require.Len(t, rec.errs, 1)
	require.Zero(t, rec.completes)
}

func TestLoadManifest_SecondaryExhaustedStillCompletes(t *testing.T) {
	ship := "https://cdn.example.com/ship.png"
	m := &models.AssetManifest{
		Critical: map[string]string{"BACKGROUND": "https://cdn.example.com/bg.png"},
		Images:   map[string]string{"SHIP": ship},
	}
	f := newFakeFetcher()
	f.failures[ship] = -1
	rec := &progressRecorder{}
	sleeper := &recordSleep{}
	l := New(f, WithHooks(rec.hooks()), WithSleep(sleeper.sleep))

	report, err := l.LoadManifest(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, RunDegraded, report.Status)
	require.Equal(t, 1, rec.completes)
	require.Empty(t, rec.errs)
	rec.assertMonotonic(t, 2)

	failures := report.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, ship, failures[0].URL)
	require.Equal(t, "load_error", failures[0].ErrorType)
	require.Equal(t, 1+MaxRetries, f.callCount(ship))
}

func TestLoadManifest_MobileInterBatchDelay(t *testing.T) {
	m := &models.AssetManifest{
		Critical: map[string]string{"BACKGROUND": "https://cdn.example.com/bg.png"},
		Images: map[string]string{
			"A": "https://cdn.example.com/a.png",
			"B": "https://cdn.example.com/b.png",
			"C": "https://cdn.example.com/c.png",
		},
	}
	profile := models.ProfileFor(models.DeviceMobile)
	sleeper := &recordSleep{}
	l := New(newFakeFetcher(), WithProfile(profile), WithSleep(sleeper.sleep))

	_, err := l.LoadManifest(context.Background(), m)
	require.NoError(t, err)
	// Three secondary assets in batches of two: one pause between the batches.
	require.Equal(t, []time.Duration{profile.InterBatchDelay}, sleeper.delays)
}

func TestLoadManifest_RetrySkipsLoadedAssets(t *testing.T) {
	bg := "https://cdn.example.com/bg.png"
	logo := "https://cdn.example.com/logo.png"
	m := &models.AssetManifest{
		Critical: map[string]string{"BACKGROUND": bg, "LOGO": logo},
	}
	f := newFakeFetcher()
	f.failures[logo] = 1 + MaxRetries
	sleeper := &recordSleep{}
	l := New(f, WithSleep(sleeper.sleep))

	_, err := l.LoadManifest(context.Background(), m)
	require.Error(t, err)

	// Manual retry restarts the whole sequence; the background is already loaded.
	report, err := l.LoadManifest(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, RunSuccess, report.Status)
	require.Equal(t, 1, f.callCount(bg))
	require.Equal(t, 2+MaxRetries, f.callCount(logo))
	require.ElementsMatch(t, []string{bg, logo}, l.Loaded())
}

func TestLoadManifest_UsesCache(t *testing.T) {
	bg := "https://cdn.example.com/bg.png"
	cache := &mapCache{data: map[string][]byte{bg: []byte("cached")}}
	f := newFakeFetcher()
	l := New(f, WithCache(cache))

	report, err := l.LoadManifest(context.Background(), &models.AssetManifest{
		Critical: map[string]string{"BACKGROUND": bg},
		Images:   map[string]string{"SHIP": "https://cdn.example.com/ship.png"},
	})
	require.NoError(t, err)
	require.Zero(t, f.callCount(bg))
	require.True(t, report.Assets[0].Cached)

	_, ok := cache.Get("https://cdn.example.com/ship.png")
	require.True(t, ok, "fetched asset should be written to the cache")
}

func TestLoadManifest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := New(newFakeFetcher())
	report, err := l.LoadManifest(ctx, &models.AssetManifest{
		Critical: map[string]string{"BACKGROUND": "https://cdn.example.com/bg.png"},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, RunCancelled, report.Status)
}
