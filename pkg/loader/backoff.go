package loader

import (
	"context"
	"time"

	"github.com/dtnitsch/kanstar-preload/models"
)

const (
	// MaxRetries bounds retries after the initial attempt.
	MaxRetries = 3
	// DefaultBackoffBase is the unit delay between attempts.
	DefaultBackoffBase = 1 * time.Second
)

// Backoff computes the wait before retry n (1-based).
type Backoff struct {
	Mode models.BackoffMode
	Base time.Duration
}

// Delay returns n*Base for linear mode, Base for fixed mode and (n-1)*Base
// for immediate mode.
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 || b.Base <= 0 {
		return 0
	}
	switch b.Mode {
	case models.BackoffFixed:
		return b.Base
	case models.BackoffImmediate:
		return time.Duration(retry-1) * b.Base
	default:
		return time.Duration(retry) * b.Base
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
