// Package logos downloads and caches channel logo images. Each title maps
// to one slug-named file; a title with any cached extension is done. An
// optional mirror is consulted before source-supplied URLs.
package logos

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/webp"

	"github.com/kism/acerestreamer/internal/nameutil"
)

const fetchTimeout = 5 * time.Second

var extensions = []string{"png", "jpg", "jpeg", "webp"}

// Fetcher downloads logos into a directory. Failures are logged and
// swallowed; a missing logo never blocks a scrape pass.
type Fetcher struct {
	dir       string
	mirrorURL string
	client    *http.Client
	logger    *slog.Logger
}

// New builds a Fetcher. mirrorURL may be empty.
func New(dir, mirrorURL string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		dir:       dir,
		mirrorURL: strings.TrimSuffix(mirrorURL, "/"),
		client:    &http.Client{Timeout: fetchTimeout},
		logger:    logger.With(slog.String("component", "logos")),
	}
}

// Path returns the cached file path for a title, empty when not cached.
func (f *Fetcher) Path(title string) string {
	slug := nameutil.Slugify(title)
	if slug == "" {
		return ""
	}
	for _, ext := range extensions {
		path := filepath.Join(f.dir, slug+"."+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Fetch ensures a logo exists for the title. The mirror is tried for each
// extension, then the source-supplied URL. Implements the scraper's logo
// sink interface.
func (f *Fetcher) Fetch(ctx context.Context, title, sourceLogoURL string) {
	slug := nameutil.Slugify(title)
	if slug == "" {
		return
	}
	if f.Path(title) != "" {
		return
	}

	if f.mirrorURL != "" {
		for _, ext := range extensions {
			url := fmt.Sprintf("%s/%s.%s", f.mirrorURL, slug, ext)
			if f.tryDownload(ctx, url, slug, ext) {
				return
			}
		}
	}

	if sourceLogoURL != "" {
		ext := extensionOf(sourceLogoURL)
		if f.tryDownload(ctx, sourceLogoURL, slug, ext) {
			return
		}
	}

	f.logger.Debug("no logo found", slog.String("title", title))
}

func (f *Fetcher) tryDownload(ctx context.Context, url, slug, ext string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return false
	}
	body := buf.Bytes()

	// Mirrors backed by Git-LFS serve pointer files when the blob is
	// missing; those are not images.
	if bytes.Contains(body, []byte("git-lfs")) {
		return false
	}
	if !validImage(body, ext) {
		return false
	}

	path := filepath.Join(f.dir, slug+"."+ext)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		f.logger.Warn("logo write failed", slog.String("path", path), slog.Any("error", err))
		return false
	}
	return true
}

// validImage decodes just enough to reject HTML error pages and truncated
// downloads.
func validImage(body []byte, ext string) bool {
	switch ext {
	case "png":
		_, err := png.DecodeConfig(bytes.NewReader(body))
		return err == nil
	case "jpg", "jpeg":
		_, err := jpeg.DecodeConfig(bytes.NewReader(body))
		return err == nil
	case "webp":
		_, err := webp.DecodeConfig(bytes.NewReader(body))
		return err == nil
	default:
		// Unknown extension, accept anything that is not empty.
		return len(body) > 0
	}
}

func extensionOf(url string) string {
	clean := url
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(clean)), ".")
	for _, known := range extensions {
		if ext == known {
			return ext
		}
	}
	return "png"
}
