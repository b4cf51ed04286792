package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kism/acerestreamer/internal/models"
	"github.com/kism/acerestreamer/pkg/m3u"
)

// exportPlaylists writes the catalog into the instance playlists directory
// as plain M3U files, one per group plus a combined file. Unlike the IPTV
// endpoint these files also carry infohash-only entries, addressed by
// infohash instead of content-id.
func (s *Services) exportPlaylists(ctx context.Context) error {
	streams, err := s.catalog.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	base := strings.TrimSuffix(s.cfg.Server.ExternalURL, "/")
	groups := make(map[string][]*m3u.Entry)
	var all []*m3u.Entry

	for _, stream := range streams {
		entry := exportEntry(stream, base)
		if entry == nil {
			continue
		}
		all = append(all, entry)
		groups[stream.GroupTitle] = append(groups[stream.GroupTitle], entry)
	}

	dir := s.cfg.Instance.PlaylistDir()
	if err := writePlaylistFile(filepath.Join(dir, "all.m3u8"), all); err != nil {
		return err
	}
	for group, entries := range groups {
		name := playlistFileName(group)
		if name == "all" {
			continue
		}
		if err := writePlaylistFile(filepath.Join(dir, name+".m3u8"), entries); err != nil {
			return err
		}
	}

	s.logger.Debug("exported adhoc playlists",
		slog.Int("entries", len(all)), slog.Int("groups", len(groups)))
	return nil
}

// exportEntry maps a catalog row to an M3U entry. Entries without a
// content-id fall back to their infohash, which the stream handler resolves
// on playback.
func exportEntry(stream models.AceStream, base string) *m3u.Entry {
	id := stream.ContentID
	if id == "" {
		id = stream.Infohash
	}
	if id == "" {
		return nil
	}
	return &m3u.Entry{
		Duration:   -1,
		TvgID:      stream.TvgID,
		TvgLogo:    stream.TvgLogo,
		GroupTitle: stream.GroupTitle,
		Title:      stream.Title,
		URL:        fmt.Sprintf("%s/hls/%s", base, id),
		LastFound:  stream.LastScrapedAt.Unix(),
	}
}

// playlistFileName flattens a group title into a safe file stem.
func playlistFileName(group string) string {
	if group == "" {
		return "ungrouped"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(group) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		return "ungrouped"
	}
	return name
}

func writePlaylistFile(path string, entries []*m3u.Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".playlist-*")
	if err != nil {
		return fmt.Errorf("creating playlist temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := m3u.NewWriter(tmp)
	for _, entry := range entries {
		if err := w.WriteEntry(entry); err != nil {
			tmp.Close()
			return fmt.Errorf("writing playlist entry: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing playlist temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing playlist file: %w", err)
	}
	return nil
}
