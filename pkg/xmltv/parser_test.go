package xmltv

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
	"time"

	"github.com/dsnet/compress/bzip2"
)

const sampleXMLTV = `<?xml version="1.0" encoding="UTF-8"?>
<tv generator-info-name="test">
  <channel id="Channel One.au">
    <display-name>Channel One</display-name>
    <icon src="http://example.com/one.png"/>
  </channel>
  <programme start="20240101120000 +0000" stop="20240101130000 +0000" channel="Channel One.au">
    <title lang="en">Midday News</title>
    <desc lang="en">The latest headlines.</desc>
    <category lang="en">News</category>
  </programme>
  <programme start="20240101130000 +0000" stop="20240101140000 +0000" channel="Channel One.au">
    <title lang="en">Afternoon Movie</title>
    <icon src="http://example.com/movie.png"/>
  </programme>
</tv>
`

func TestParser_ChannelsAndProgrammes(t *testing.T) {
	var channels []*Channel
	var programmes []*Programme

	p := &Parser{
		OnChannel: func(ch *Channel) error {
			channels = append(channels, ch)
			return nil
		},
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}

	if err := p.Parse(strings.NewReader(sampleXMLTV)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(channels))
	}
	ch := channels[0]
	if ch.ID != "Channel One.au" {
		t.Errorf("expected channel id 'Channel One.au', got '%s'", ch.ID)
	}
	if ch.DisplayName != "Channel One" {
		t.Errorf("expected display name 'Channel One', got '%s'", ch.DisplayName)
	}
	if ch.Icon != "http://example.com/one.png" {
		t.Errorf("expected icon, got '%s'", ch.Icon)
	}

	if len(programmes) != 2 {
		t.Fatalf("expected 2 programmes, got %d", len(programmes))
	}
	prog := programmes[0]
	if prog.Title != "Midday News" {
		t.Errorf("expected title 'Midday News', got '%s'", prog.Title)
	}
	if prog.Description != "The latest headlines." {
		t.Errorf("expected description, got '%s'", prog.Description)
	}
	want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if !prog.Start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, prog.Start)
	}
	if programmes[1].Icon != "http://example.com/movie.png" {
		t.Errorf("expected programme icon, got '%s'", programmes[1].Icon)
	}
}

func TestParser_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(sampleXMLTV)); err != nil {
		t.Fatalf("writing gzip: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}

	count := 0
	p := &Parser{OnProgramme: func(*Programme) error {
		count++
		return nil
	}}

	if err := p.ParseCompressed(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 programmes, got %d", count)
	}
}

func TestParser_Bzip2(t *testing.T) {
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, nil)
	if err != nil {
		t.Fatalf("creating bzip2 writer: %v", err)
	}
	if _, err := bw.Write([]byte(sampleXMLTV)); err != nil {
		t.Fatalf("writing bzip2: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("closing bzip2: %v", err)
	}

	count := 0
	p := &Parser{OnProgramme: func(*Programme) error {
		count++
		return nil
	}}

	if err := p.ParseCompressed(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 programmes, got %d", count)
	}
}

func TestParseXMLTVTime(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"20240101120000 +0000", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"20240101120000", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"202401011200", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := parseXMLTVTime(tt.input)
		if err != nil {
			t.Errorf("parseXMLTVTime(%q): unexpected error %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseXMLTVTime(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := parseXMLTVTime("not a time"); err == nil {
		t.Error("expected error for invalid time")
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteChannel(&Channel{ID: "ch.au", DisplayName: "Ch & Co"}); err != nil {
		t.Fatalf("writing channel: %v", err)
	}
	err := w.WriteProgramme(&Programme{
		Start:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Stop:        time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
		Channel:     "ch.au",
		Title:       "News <Live>",
		Description: "Headlines",
	})
	if err != nil {
		t.Fatalf("writing programme: %v", err)
	}
	if err := w.WriteFooter(); err != nil {
		t.Fatalf("writing footer: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Ch &amp; Co") {
		t.Errorf("expected escaped display name: %q", out)
	}

	var programmes []*Programme
	p := &Parser{OnProgramme: func(prog *Programme) error {
		programmes = append(programmes, prog)
		return nil
	}}
	if err := p.Parse(strings.NewReader(out)); err != nil {
		t.Fatalf("reparsing output: %v", err)
	}
	if len(programmes) != 1 || programmes[0].Title != "News <Live>" {
		t.Fatalf("round trip mismatch: %+v", programmes)
	}
}

func TestWriter_ChannelAfterProgramme(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	err := w.WriteProgramme(&Programme{
		Start:   time.Now(),
		Stop:    time.Now().Add(time.Hour),
		Channel: "ch",
		Title:   "Show",
	})
	if err != nil {
		t.Fatalf("writing programme: %v", err)
	}

	if err := w.WriteChannel(&Channel{ID: "late"}); err == nil {
		t.Error("expected error writing channel after programme")
	}
}
