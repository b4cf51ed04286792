package m3u

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

func TestParser_BasicParsing(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="Channel One.au" tvg-logo="http://example.com/logo.png" group-title="News" x-last-found="1700000000",Channel One
http://example.com/stream1.m3u8
#EXTINF:-1 tvg-id="Channel Two.uk" group-title="Sports",Channel Two
http://example.com/stream2.m3u8
`

	var entries []*Entry
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			entries = append(entries, entry)
			return nil
		},
	}

	if err := p.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	e1 := entries[0]
	if e1.TvgID != "Channel One.au" {
		t.Errorf("expected tvg-id 'Channel One.au', got '%s'", e1.TvgID)
	}
	if e1.TvgLogo != "http://example.com/logo.png" {
		t.Errorf("expected tvg-logo 'http://example.com/logo.png', got '%s'", e1.TvgLogo)
	}
	if e1.GroupTitle != "News" {
		t.Errorf("expected group-title 'News', got '%s'", e1.GroupTitle)
	}
	if e1.LastFound != 1700000000 {
		t.Errorf("expected x-last-found 1700000000, got %d", e1.LastFound)
	}
	if e1.Title != "Channel One" {
		t.Errorf("expected title 'Channel One', got '%s'", e1.Title)
	}
	if e1.URL != "http://example.com/stream1.m3u8" {
		t.Errorf("expected URL 'http://example.com/stream1.m3u8', got '%s'", e1.URL)
	}
	if e1.Duration != -1 {
		t.Errorf("expected duration -1, got %d", e1.Duration)
	}

	if entries[1].LastFound != 0 {
		t.Errorf("expected zero x-last-found, got %d", entries[1].LastFound)
	}
}

func TestParser_TitleWithComma(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="news1" group-title="News, World",Breaking News
http://example.com/news.m3u8
`

	var entries []*Entry
	p := &Parser{OnEntry: func(entry *Entry) error {
		entries = append(entries, entry)
		return nil
	}}

	if err := p.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].GroupTitle != "News, World" {
		t.Errorf("expected group-title 'News, World', got '%s'", entries[0].GroupTitle)
	}
	if entries[0].Title != "Breaking News" {
		t.Errorf("expected title 'Breaking News', got '%s'", entries[0].Title)
	}
}

func TestParser_URLWithoutExtinf(t *testing.T) {
	content := `#EXTM3U
http://example.com/streams/sports-one.m3u8
`

	var entries []*Entry
	p := &Parser{OnEntry: func(entry *Entry) error {
		entries = append(entries, entry)
		return nil
	}}

	if err := p.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Title != "sports-one" {
		t.Errorf("expected title 'sports-one', got '%s'", entries[0].Title)
	}
}

func TestParser_ExtraAttributes(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="ch1" custom-attr="custom value",Channel
http://example.com/ch1.m3u8
`

	var entries []*Entry
	p := &Parser{OnEntry: func(entry *Entry) error {
		entries = append(entries, entry)
		return nil
	}}

	if err := p.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := entries[0].Extra["custom-attr"]; got != "custom value" {
		t.Errorf("expected extra attr 'custom value', got '%s'", got)
	}
}

func TestParser_Gzip(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="gz1",Compressed Channel
http://example.com/gz1.m3u8
`

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(content)); err != nil {
		t.Fatalf("writing gzip: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}

	var entries []*Entry
	p := &Parser{OnEntry: func(entry *Entry) error {
		entries = append(entries, entry)
		return nil
	}}

	if err := p.ParseCompressed(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "Compressed Channel" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestParser_Bzip2(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="bz1",Bzipped Channel
http://example.com/bz1.m3u8
`

	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, nil)
	if err != nil {
		t.Fatalf("creating bzip2 writer: %v", err)
	}
	if _, err := bw.Write([]byte(content)); err != nil {
		t.Fatalf("writing bzip2: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("closing bzip2: %v", err)
	}

	var entries []*Entry
	p := &Parser{OnEntry: func(entry *Entry) error {
		entries = append(entries, entry)
		return nil
	}}

	if err := p.ParseCompressed(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "Bzipped Channel" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestParser_Xz(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="xz1",Xz Channel
http://example.com/xz1.m3u8
`

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("creating xz writer: %v", err)
	}
	if _, err := xw.Write([]byte(content)); err != nil {
		t.Fatalf("writing xz: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("closing xz: %v", err)
	}

	var entries []*Entry
	p := &Parser{OnEntry: func(entry *Entry) error {
		entries = append(entries, entry)
		return nil
	}}

	if err := p.ParseCompressed(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "Xz Channel" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	err := w.WriteEntry(&Entry{
		Duration:   -1,
		TvgID:      "Channel One.au",
		TvgLogo:    "http://example.com/logo.png",
		GroupTitle: "News",
		Title:      "Channel One",
		URL:        "http://example.com/stream1.m3u8",
		LastFound:  1700000000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "#EXTM3U\n") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, `x-last-found="1700000000"`) {
		t.Errorf("missing x-last-found attribute: %q", out)
	}

	var entries []*Entry
	p := &Parser{OnEntry: func(entry *Entry) error {
		entries = append(entries, entry)
		return nil
	}}
	if err := p.Parse(strings.NewReader(out)); err != nil {
		t.Fatalf("reparsing output: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].TvgID != "Channel One.au" || entries[0].LastFound != 1700000000 {
		t.Errorf("round trip mismatch: %+v", entries[0])
	}
}
