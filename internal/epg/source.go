package epg

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/httpclient"
	"github.com/kism/acerestreamer/internal/nameutil"
)

// updateInterval is how long a downloaded guide stays fresh. The saved
// file's mtime is the last-updated instant, so freshness survives restarts.
const updateInterval = 6 * time.Hour

// source is one configured XMLTV provider and its on-disk copy.
type source struct {
	cfg  config.EPGSourceConfig
	path string
}

func newSource(cfg config.EPGSourceConfig, dir string) (*source, error) {
	name, err := sourceFileName(cfg.URL, cfg.Format)
	if err != nil {
		return nil, err
	}
	return &source{cfg: cfg, path: filepath.Join(dir, name)}, nil
}

// sourceFileName derives a stable file name from the source URL so two
// sources never share a file.
func sourceFileName(rawURL, format string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing EPG url %q: %w", rawURL, err)
	}
	name := nameutil.Slugify(u.Host)
	if p := nameutil.Slugify(u.Path); p != "" {
		name += "-" + p
	}
	ext := ".xml"
	if format == "xml.gz" {
		ext = ".xml.gz"
	}
	return name + ext, nil
}

// lastUpdated returns the zero time when the file does not exist.
func (s *source) lastUpdated() time.Time {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (s *source) timeToUpdate(now time.Time) bool {
	last := s.lastUpdated()
	return last.IsZero() || now.Sub(last) > updateInterval
}

// timeUntilNextUpdate is zero when an update is already due.
func (s *source) timeUntilNextUpdate(now time.Time) time.Duration {
	last := s.lastUpdated()
	if last.IsZero() {
		return 0
	}
	remaining := updateInterval - now.Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// download fetches the guide and writes it to the source's file. The body
// is stored as served; decompression happens at parse time.
func (s *source) download(ctx context.Context, client *httpclient.Client) error {
	body, err := client.GetBody(ctx, s.cfg.URL)
	if err != nil {
		return fmt.Errorf("downloading EPG %s: %w", s.cfg.URL, err)
	}
	if err := os.WriteFile(s.path, body, 0o644); err != nil {
		return fmt.Errorf("saving EPG %s: %w", s.path, err)
	}
	return nil
}

// open returns a reader over the saved guide, nil when never downloaded.
func (s *source) open() (*os.File, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return f, err
}
