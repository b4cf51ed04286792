package scraper

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kism/acerestreamer/internal/config"
)

const (
	cidA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	cidB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticFetch(body string) fetchFunc {
	return func(context.Context, string) ([]byte, error) {
		return []byte(body), nil
	}
}

func TestHTMLScraperFindsAnchorsWithTitles(t *testing.T) {
	page := `<html><body>
		<div class="title-bar">Site Chrome</div>
		<div class="card">
			<span class="title-bar">Channel One</span>
			<a href="acestream://` + cidA + `">watch</a>
		</div>
		<div class="card">
			<span class="title-bar">Channel Two</span>
			<a href="acestream://` + cidB + `">watch</a>
		</div>
	</body></html>`

	s, err := newHTMLScraper(config.HTMLSourceConfig{
		Name:        "site-one",
		URL:         "http://example.invalid/streams",
		TargetClass: "title-bar",
	}, staticFetch(page), testLogger())
	require.NoError(t, err)

	found, err := s.scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 2)

	assert.Equal(t, "Channel One", found[0].Title)
	assert.Equal(t, cidA, found[0].ContentID)
	assert.Equal(t, "Channel Two", found[1].Title)
	assert.Equal(t, cidB, found[1].ContentID)
	assert.Equal(t, "site-one", found[0].Source)
}

func TestHTMLScraperRejectsSiteWideChrome(t *testing.T) {
	// Both anchors see the page heading; neither may use it as a title.
	page := `<html><body><div class="name">Live Streams</div>
		<div><span class="name">Alpha</span><a href="acestream://` + cidA + `">x</a></div>
		<div><span class="name">Beta</span><a href="acestream://` + cidB + `">x</a></div>
	</body></html>`

	s, err := newHTMLScraper(config.HTMLSourceConfig{
		Name:        "s",
		TargetClass: "name",
	}, staticFetch(page), testLogger())
	require.NoError(t, err)

	found, err := s.scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 2)
	for _, f := range found {
		assert.NotEqual(t, "Live Streams", f.Title)
	}
}

func TestHTMLScraperCheckSibling(t *testing.T) {
	page := `<html><body>
		<div class="label">Gamma</div>
		<div><a href="acestream://` + cidA + `">x</a></div>
	</body></html>`

	s, err := newHTMLScraper(config.HTMLSourceConfig{
		Name:         "s",
		TargetClass:  "label",
		CheckSibling: true,
	}, staticFetch(page), testLogger())
	require.NoError(t, err)

	found, err := s.scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Gamma", found[0].Title)
}

func TestHTMLScraperInfohashAnchor(t *testing.T) {
	page := `<html><body>
		<div><span class="t">Delta</span>
		<a href="http://127.0.0.1:6878/ace/getstream?infohash=` + cidB + `">x</a></div>
	</body></html>`

	s, err := newHTMLScraper(config.HTMLSourceConfig{
		Name:        "s",
		TargetClass: "t",
	}, staticFetch(page), testLogger())
	require.NoError(t, err)

	found, err := s.scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Empty(t, found[0].ContentID)
	assert.Equal(t, cidB, found[0].Infohash)
}

func TestHTMLScraperAppliesFilter(t *testing.T) {
	page := `<html><body>
		<div><span class="t">Adult Channel</span><a href="acestream://` + cidA + `">x</a></div>
		<div><span class="t">Family Channel</span><a href="acestream://` + cidB + `">x</a></div>
	</body></html>`

	s, err := newHTMLScraper(config.HTMLSourceConfig{
		Name:        "s",
		TargetClass: "t",
		TitleFilter: config.TitleFilterConfig{AlwaysExcludeWords: []string{"Adult"}},
	}, staticFetch(page), testLogger())
	require.NoError(t, err)

	found, err := s.scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Family Channel", found[0].Title)
}

func TestHTMLScraperNoAnchors(t *testing.T) {
	s, err := newHTMLScraper(config.HTMLSourceConfig{
		Name:        "s",
		TargetClass: "t",
	}, staticFetch("<html><body><p>nothing here</p></body></html>"), testLogger())
	require.NoError(t, err)

	found, err := s.scrape(context.Background())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestHTMLScraperMangledMarkup(t *testing.T) {
	// html.Parse is lenient; unclosed tags still yield the anchor.
	page := `<div class="t">Epsilon<a href="acestream://` + cidA + `">x`

	s, err := newHTMLScraper(config.HTMLSourceConfig{
		Name:        "s",
		TargetClass: "t",
	}, staticFetch(page), testLogger())
	require.NoError(t, err)

	found, err := s.scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, strings.HasPrefix(found[0].Title, "Epsilon"))
}
