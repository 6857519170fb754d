// Package models defines data structures for the asset manifest and runtime configuration.
package models

import "time"

// BackoffMode selects how retry delays grow.
type BackoffMode string

const (
	BackoffLinear BackoffMode = "linear"
	BackoffFixed  BackoffMode = "fixed"
	// BackoffImmediate retries once without waiting, then grows linearly.
	BackoffImmediate BackoffMode = "immediate"
)

// PreloadConfig holds runtime configuration for a preload run.
// All values come from CLI flags.
type PreloadConfig struct {
	ManifestPath string
	BaseURL      string
	Profile      DeviceProfile
	CacheDir     string
	CacheTTL     time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMode  BackoffMode
}
