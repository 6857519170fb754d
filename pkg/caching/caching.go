// Package caching keeps fetched asset bytes on disk so a repeat page load
// skips the network, the way a browser image cache would.
package caching

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Cache is a file-based asset cache with a TTL.
// Entries live at <path>/<first two hex chars>/<sha256(url)>.
type Cache struct {
	path string
	ttl  time.Duration
}

// NewCache creates a new Cache instance.
// The cache path will be created if it doesn't exist. A zero ttl never expires entries.
func NewCache(path string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		path: path,
		ttl:  ttl,
	}, nil
}

func (c *Cache) filePath(url string) string {
	key := fmt.Sprintf("%x", sha256.Sum256([]byte(url)))
	return filepath.Join(c.path, key[:2], key)
}

func (c *Cache) expired(mod time.Time) bool {
	return c.ttl > 0 && time.Since(mod) > c.ttl
}

// Get returns the cached bytes for url when present and fresh.
func (c *Cache) Get(url string) ([]byte, bool) {
	filePath := c.filePath(url)

	info, err := os.Stat(filePath)
	if err != nil || c.expired(info.ModTime()) {
		return nil, false
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores data for url. The write goes through a temp file so readers never see a partial asset.
func (c *Cache) Set(url string, data []byte) error {
	filePath := c.filePath(url)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache shard: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".asset-*")
	if err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

// Prune removes expired entries and returns how many were deleted.
func (c *Cache) Prune() (int, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	removed := 0
	err := filepath.WalkDir(c.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if c.expired(info.ModTime()) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to prune cache: %w", err)
	}
	return removed, nil
}
