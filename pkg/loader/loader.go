// Package loader preloads a tiered asset manifest with per-asset timeouts,
// bounded retries and device-tuned batching, reporting progress for a
// loading screen.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dtnitsch/kanstar-preload/models"
)

// AssetFetcher performs a single network load. *fetcher.Fetcher satisfies it.
type AssetFetcher interface {
	FetchAsset(ctx context.Context, url string) ([]byte, error)
}

// AssetCache stands in for the browser image cache. *caching.Cache satisfies it.
type AssetCache interface {
	Get(url string) ([]byte, bool)
	Set(url string, data []byte) error
}

// Hooks are the loading-screen callbacks. Any of them may be nil.
// OnProgress calls are serialized and never observe a decreasing value.
type Hooks struct {
	OnProgress     func(Progress)
	OnLoadComplete func(*Report)
	OnError        func(error)
}

// Option configures a Loader.
type Option func(*Loader)

// WithProfile sets the device profile (timeout, batch size, inter-batch delay).
func WithProfile(p models.DeviceProfile) Option {
	return func(l *Loader) { l.profile = p }
}

// WithBackoff sets the retry back-off.
func WithBackoff(b Backoff) Option {
	return func(l *Loader) { l.backoff = b }
}

// WithMaxRetries overrides MaxRetries. Negative values are treated as zero.
func WithMaxRetries(n int) Option {
	return func(l *Loader) {
		if n < 0 {
			n = 0
		}
		l.maxRetries = n
	}
}

// WithCache enables the on-disk asset cache.
func WithCache(c AssetCache) Option {
	return func(l *Loader) { l.cache = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithHooks sets the loading-screen callbacks.
func WithHooks(h Hooks) Option {
	return func(l *Loader) { l.hooks = h }
}

// WithSleep replaces the back-off and inter-batch wait. Tests use it to avoid real delays.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(l *Loader) { l.sleep = sleep }
}

// Loader owns the loaded-asset set and the progress counter of a page load.
type Loader struct {
	fetcher    AssetFetcher
	cache      AssetCache
	profile    models.DeviceProfile
	backoff    Backoff
	maxRetries int
	hooks      Hooks
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error

	mu       sync.Mutex
	loaded   map[string]struct{}
	states   map[string]LoadState
	progress Progress

	// emitMu serializes progress increments with their callbacks.
	emitMu sync.Mutex
}

// New builds a Loader with desktop defaults.
func New(f AssetFetcher, opts ...Option) *Loader {
	l := &Loader{
		fetcher:    f,
		profile:    models.ProfileFor(models.DeviceDesktop),
		backoff:    Backoff{Mode: models.BackoffLinear, Base: DefaultBackoffBase},
		maxRetries: MaxRetries,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:      sleepContext,
		loaded:     make(map[string]struct{}),
		states:     make(map[string]LoadState),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.profile.BatchSize < 1 {
		l.profile.BatchSize = 1
	}
	return l
}

// Preload loads one asset within the device timeout.
func (l *Loader) Preload(ctx context.Context, rawURL string) error {
	_, _, err := l.preloadOnce(ctx, rawURL)
	return err
}

// PreloadWithRetry makes the initial attempt plus up to MaxRetries retries,
// waiting Backoff.Delay(n) before retry n. It returns the number of attempts made.
func (l *Loader) PreloadWithRetry(ctx context.Context, rawURL string) (int, error) {
	out := l.loadWithRetry(ctx, rawURL)
	return out.attempts, out.err
}

// LoadManifest loads the critical tier as one concurrent batch, then the
// secondary tier in profile-sized batches. Secondary failures are recorded in
// the report; critical failures are joined into the returned error and passed
// to OnError, in which case OnLoadComplete is not called.
func (l *Loader) LoadManifest(ctx context.Context, m *models.AssetManifest) (*Report, error) {
	critical := m.CriticalAssets()
	secondary := m.SecondaryAssets()

	report := &Report{
		RunID:     uuid.NewString(),
		Device:    l.profile.Class.String(),
		StartedAt: time.Now(),
		Total:     len(critical) + len(secondary),
	}
	l.beginRun(report.Total, append(append([]models.Asset{}, critical...), secondary...))

	logger := l.logger.With("run_id", report.RunID, "device", report.Device)
	logger.Info("Starting critical tier", "assets", len(critical))

	var criticalErrs []error
	for _, res := range l.runBatch(ctx, critical) {
		report.add(res)
		if res.Err != nil {
			exhausted := &CriticalAssetExhaustedError{Key: res.Key, URL: res.URL, Attempts: res.Attempts, Err: res.Err}
			logger.Error("Critical asset exhausted retries", "key", res.Key, "url", res.URL, "attempts", res.Attempts, "error", res.Err)
			criticalErrs = append(criticalErrs, exhausted)
		}
	}
	if err := ctx.Err(); err != nil {
		return l.abort(report, err)
	}

	logger.Info("Starting secondary tier", "assets", len(secondary), "batch_size", l.profile.BatchSize)
	for start := 0; start < len(secondary); start += l.profile.BatchSize {
		if start > 0 && l.profile.InterBatchDelay > 0 {
			if err := l.sleep(ctx, l.profile.InterBatchDelay); err != nil {
				return l.abort(report, err)
			}
		}
		end := min(start+l.profile.BatchSize, len(secondary))
		for _, res := range l.runBatch(ctx, secondary[start:end]) {
			report.add(res)
			if res.Err != nil {
				exhausted := &SecondaryAssetExhaustedError{Key: res.Key, URL: res.URL, Attempts: res.Attempts, Err: res.Err}
				logger.Warn("Secondary asset skipped", "key", res.Key, "url", res.URL, "error", exhausted)
			}
		}
		if err := ctx.Err(); err != nil {
			return l.abort(report, err)
		}
	}

	report.FinishedAt = time.Now()
	switch {
	case len(criticalErrs) > 0:
		report.Status = RunCriticalFailure
	case report.Failed > 0:
		report.Status = RunDegraded
	default:
		report.Status = RunSuccess
	}
	logger.Info("Asset loading finished", "status", report.Status, "loaded", report.Loaded, "failed", report.Failed, "duration", report.Duration())

	if len(criticalErrs) > 0 {
		err := errors.Join(criticalErrs...)
		if l.hooks.OnError != nil {
			l.hooks.OnError(err)
		}
		return report, err
	}
	if l.hooks.OnLoadComplete != nil {
		l.hooks.OnLoadComplete(report)
	}
	return report, nil
}

// Loaded returns the URLs loaded so far. The set only grows.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.loaded))
	for u := range l.loaded {
		out = append(out, u)
	}
	return out
}

// IsLoaded reports whether url is in the loaded set.
func (l *Loader) IsLoaded(rawURL string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[rawURL]
	return ok
}

// State returns the lifecycle state of url, pending if never seen.
func (l *Loader) State(rawURL string) LoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.states[rawURL]; ok {
		return s
	}
	return LoadState{Status: StatusPending}
}

// Progress returns the current settled/total counter.
func (l *Loader) Progress() Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress
}

type outcome struct {
	attempts int
	size     int64
	cached   bool
	err      error
}

func (l *Loader) runBatch(ctx context.Context, batch []models.Asset) []AssetResult {
	results := make([]AssetResult, len(batch))
	var g errgroup.Group
	for i, a := range batch {
		g.Go(func() error {
			started := time.Now()
			out := l.loadWithRetry(ctx, a.URL)
			results[i] = AssetResult{
				Key:       a.Key,
				URL:       a.URL,
				Tier:      a.Tier,
				Attempts:  out.attempts,
				SizeBytes: out.size,
				Cached:    out.cached,
				Duration:  time.Since(started),
				Err:       out.err,
			}
			l.settle()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (l *Loader) loadWithRetry(ctx context.Context, rawURL string) outcome {
	var out outcome
	for {
		out.attempts++
		size, cached, err := l.preloadOnce(ctx, rawURL)
		if err == nil {
			out.size, out.cached, out.err = size, cached, nil
			return out
		}
		out.err = err

		retry := out.attempts
		if retry > l.maxRetries || !IsRetryable(err) || ctx.Err() != nil {
			l.markFailed(rawURL, err, true)
			return out
		}
		delay := l.backoff.Delay(retry)
		l.logger.Warn("Retrying asset", "url", rawURL, "attempt", out.attempts, "delay", delay, "error", err)
		if sleepErr := l.sleep(ctx, delay); sleepErr != nil {
			l.markFailed(rawURL, err, true)
			return out
		}
	}
}

func (l *Loader) preloadOnce(ctx context.Context, rawURL string) (int64, bool, error) {
	if err := validateURL(rawURL); err != nil {
		l.markFailed(rawURL, err, false)
		return 0, false, err
	}
	if l.IsLoaded(rawURL) {
		return 0, true, nil
	}
	l.markLoading(rawURL)

	if l.cache != nil {
		if data, ok := l.cache.Get(rawURL); ok {
			l.markLoaded(rawURL)
			return int64(len(data)), true, nil
		}
	}

	fetchCtx := ctx
	if l.profile.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, l.profile.Timeout)
		defer cancel()
	}

	data, err := l.fetcher.FetchAsset(fetchCtx, rawURL)
	if err != nil {
		if ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			err = &AssetTimeoutError{URL: rawURL, Timeout: l.profile.Timeout}
		} else {
			err = &AssetLoadError{URL: rawURL, Err: err}
		}
		l.markFailed(rawURL, err, false)
		return 0, false, err
	}

	if l.cache != nil {
		if cacheErr := l.cache.Set(rawURL, data); cacheErr != nil {
			l.logger.Warn("Failed to cache asset", "url", rawURL, "error", cacheErr)
		}
	}
	l.markLoaded(rawURL)
	return int64(len(data)), false, nil
}

func validateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty locator", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidURL, rawURL)
	}
	return nil
}

func (l *Loader) beginRun(total int, assets []models.Asset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = Progress{Total: total}
	for _, a := range assets {
		if _, ok := l.loaded[a.URL]; !ok {
			l.states[a.URL] = LoadState{Status: StatusPending}
		}
	}
}

func (l *Loader) settle() {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()

	l.mu.Lock()
	if l.progress.Settled < l.progress.Total {
		l.progress.Settled++
	}
	p := l.progress
	l.mu.Unlock()

	if l.hooks.OnProgress != nil {
		l.hooks.OnProgress(p)
	}
}

func (l *Loader) abort(report *Report, err error) (*Report, error) {
	report.FinishedAt = time.Now()
	report.Status = RunCancelled
	l.logger.Warn("Asset loading cancelled", "run_id", report.RunID, "error", err)
	return report, fmt.Errorf("asset loading cancelled: %w", err)
}

func (l *Loader) markLoading(rawURL string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.states[rawURL]
	s.Status = StatusLoading
	s.Attempts++
	s.Final = false
	l.states[rawURL] = s
}

func (l *Loader) markLoaded(rawURL string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.states[rawURL]
	s.Status = StatusLoaded
	s.Final = true
	s.LastErr = nil
	l.states[rawURL] = s
	l.loaded[rawURL] = struct{}{}
}

func (l *Loader) markFailed(rawURL string, err error, final bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.states[rawURL]
	s.Status = StatusFailed
	s.LastErr = err
	s.Final = final
	l.states[rawURL] = s
}
