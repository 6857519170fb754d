package loader

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidURL is returned without any network activity for empty or malformed locators.
var ErrInvalidURL = errors.New("invalid asset URL")

// AssetTimeoutError means a single asset did not finish loading before its deadline.
// Retryable.
type AssetTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *AssetTimeoutError) Error() string {
	return fmt.Sprintf("asset %s timed out after %s", e.URL, e.Timeout)
}

// AssetLoadError means the server or transport reported a failure. Retryable.
type AssetLoadError struct {
	URL string
	Err error
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("failed to load asset %s: %v", e.URL, e.Err)
}

func (e *AssetLoadError) Unwrap() error { return e.Err }

// CriticalAssetExhaustedError means a critical asset failed every attempt.
// It is surfaced to OnError and returned from LoadManifest.
type CriticalAssetExhaustedError struct {
	Key      string
	URL      string
	Attempts int
	Err      error
}

func (e *CriticalAssetExhaustedError) Error() string {
	return fmt.Sprintf("critical asset %q failed after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *CriticalAssetExhaustedError) Unwrap() error { return e.Err }

// SecondaryAssetExhaustedError means a secondary asset failed every attempt.
// It is logged and recorded in the report, never returned.
type SecondaryAssetExhaustedError struct {
	Key      string
	URL      string
	Attempts int
	Err      error
}

func (e *SecondaryAssetExhaustedError) Error() string {
	return fmt.Sprintf("secondary asset %q failed after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *SecondaryAssetExhaustedError) Unwrap() error { return e.Err }

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidURL) {
		return false
	}
	var timeout *AssetTimeoutError
	var load *AssetLoadError
	return errors.As(err, &timeout) || errors.As(err, &load)
}

// errorType maps an error onto the short labels stored in run history.
func errorType(err error) string {
	var timeout *AssetTimeoutError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.As(err, &timeout):
		return "timeout"
	default:
		return "load_error"
	}
}
