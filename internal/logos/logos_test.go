package logos

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFetchFromMirror(t *testing.T) {
	logo := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/channel-one.png" {
			_, _ = w.Write(logo)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	f := New(dir, srv.URL, testLogger())
	f.Fetch(context.Background(), "Channel One", "")

	path := f.Path("Channel One")
	require.NotEmpty(t, path)
	assert.Equal(t, filepath.Join(dir, "channel-one.png"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, logo, got)
}

func TestFetchFallsBackToSourceURL(t *testing.T) {
	logo := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/source-logo.png" {
			_, _ = w.Write(logo)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	f := New(t.TempDir(), srv.URL+"/missing", testLogger())
	f.Fetch(context.Background(), "Channel Two", srv.URL+"/source-logo.png")

	assert.NotEmpty(t, f.Path("Channel Two"))
}

func TestFetchRejectsLFSPointer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("version https://git-lfs.github.com/spec/v1\noid sha256:abc\n"))
	}))
	t.Cleanup(srv.Close)

	f := New(t.TempDir(), srv.URL, testLogger())
	f.Fetch(context.Background(), "Pointer Channel", "")

	assert.Empty(t, f.Path("Pointer Channel"))
}

func TestFetchRejectsNonImageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>404 but with status 200</html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(t.TempDir(), srv.URL, testLogger())
	f.Fetch(context.Background(), "Bad Body", "")

	assert.Empty(t, f.Path("Bad Body"))
}

func TestFetchSkipsWhenCached(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cached.jpg"), []byte("x"), 0o644))

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		http.Error(w, "not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := New(dir, srv.URL, testLogger())
	f.Fetch(context.Background(), "Cached", "")

	assert.Zero(t, requests)
	assert.Equal(t, filepath.Join(dir, "cached.jpg"), f.Path("Cached"))
}

func TestExtensionOf(t *testing.T) {
	assert.Equal(t, "jpg", extensionOf("http://x/logo.jpg"))
	assert.Equal(t, "webp", extensionOf("http://x/logo.webp?size=64"))
	assert.Equal(t, "png", extensionOf("http://x/logo"))
	assert.Equal(t, "png", extensionOf("http://x/logo.svg"))
}
