// Package scrapecache provides an on-disk TTL cache of raw source documents
// keyed by URL. The filesystem is the cache; there is no in-memory layer.
// File names derive from the slugified URL so concurrent writers for distinct
// sources never collide.
package scrapecache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kism/acerestreamer/internal/nameutil"
)

// Cache stores raw response bodies under a single directory.
type Cache struct {
	dir string
}

// New creates a cache rooted at dir, creating the directory if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scrape cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// path maps a source URL to its cache file.
func (c *Cache) path(url string) string {
	return filepath.Join(c.dir, nameutil.Slugify(url)+".txt")
}

// IsFresh reports whether a cached document exists for url and its mtime is
// within ttl.
func (c *Cache) IsFresh(url string, ttl time.Duration) bool {
	info, err := os.Stat(c.path(url))
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) <= ttl
}

// Load returns the cached bytes for url, or nil when absent.
func (c *Cache) Load(url string) []byte {
	data, err := os.ReadFile(c.path(url))
	if err != nil {
		return nil
	}
	return data
}

// Save writes the document atomically via a temp file and rename.
func (c *Cache) Save(url string, body []byte) error {
	target := c.path(url)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}
