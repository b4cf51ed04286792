// Package ume is the HTTP client for the upstream AceStream engine. The
// engine's API is small: a version probe, a per-session manifest endpoint
// returning middleware URLs, a stat endpoint, a stop command and an
// infohash resolver. Clients of the gateway never talk to the engine
// directly; everything goes through this package.
package ume

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/httpclient"
)

// Middleware holds the per-session URLs the engine hands out when a
// playback session starts.
type Middleware struct {
	PlaybackURL       string `json:"playback_url"`
	StatURL           string `json:"stat_url"`
	CommandURL        string `json:"command_url"`
	Infohash          string `json:"infohash"`
	PlaybackSessionID string `json:"playback_session_id"`
	IsLive            int    `json:"is_live"`
	IsEncrypted       int    `json:"is_encrypted"`
	ClientSessionID   int    `json:"client_session_id"`
}

// Stat is a snapshot of a playback session's transfer state.
type Stat struct {
	Status     string `json:"status"`
	Peers      int    `json:"peers"`
	SpeedDown  int64  `json:"speed_down"`
	SpeedUp    int64  `json:"speed_up"`
	Downloaded int64  `json:"downloaded"`
	Uploaded   int64  `json:"uploaded"`
}

// Client talks to one engine instance.
type Client struct {
	address        string // always has a trailing slash
	transcodeAudio bool
	http           *httpclient.Client
	logger         *slog.Logger
}

// New creates an engine client. The address comes normalised from config
// with a trailing slash.
func New(cfg config.EngineConfig, hc *httpclient.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		address:        cfg.Address,
		transcodeAudio: cfg.TranscodeAudio,
		http:           hc,
		logger:         logger.With(slog.String("component", "ume")),
	}
}

// Address returns the configured engine base URL.
func (c *Client) Address() string {
	return c.address
}

// GetVersion probes the engine and returns its version string. Used as the
// pool health check.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	body, err := c.http.GetBody(ctx, c.address+"webui/api/service?method=get_version")
	if err != nil {
		return "", fmt.Errorf("fetching engine version: %w", err)
	}

	var decoded struct {
		Result struct {
			Version string `json:"version"`
		} `json:"result"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decoding engine version: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("engine version error: %s", decoded.Error)
	}
	return decoded.Result.Version, nil
}

// GetMiddleware starts (or re-attaches to) a playback session for the
// content-id under the given pid and returns the session URLs.
func (c *Client) GetMiddleware(ctx context.Context, contentID string, pid int) (*Middleware, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("content_id", contentID)
	params.Set("transcode_ac3", strconv.FormatBool(c.transcodeAudio))
	params.Set("pid", strconv.Itoa(pid))

	body, err := c.http.GetBody(ctx, c.address+"ace/manifest.m3u8?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetching middleware: %w", err)
	}

	var decoded struct {
		Response *Middleware `json:"response"`
		Error    string      `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding middleware: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("engine error: %s", decoded.Error)
	}
	if decoded.Response == nil || decoded.Response.PlaybackURL == "" {
		return nil, fmt.Errorf("engine returned no playback URL")
	}
	return decoded.Response, nil
}

// GetStat fetches the stat object behind a session's stat URL. An
// unparseable stat is an error; callers log once and move on.
func (c *Client) GetStat(ctx context.Context, statURL string) (*Stat, error) {
	body, err := c.http.GetBody(ctx, statURL)
	if err != nil {
		return nil, fmt.Errorf("fetching stat: %w", err)
	}

	var decoded struct {
		Response *Stat  `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding stat: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("engine stat error: %s", decoded.Error)
	}
	if decoded.Response == nil {
		return nil, fmt.Errorf("engine returned no stat")
	}
	return decoded.Response, nil
}

// Stop issues the stop command behind a session's command URL. Failure is
// returned for logging; sessions are dropped regardless.
func (c *Client) Stop(ctx context.Context, commandURL string) error {
	sep := "?"
	if u, err := url.Parse(commandURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	if _, err := c.http.GetBody(ctx, commandURL+sep+"method=stop"); err != nil {
		return fmt.Errorf("stopping session: %w", err)
	}
	return nil
}

// GetContentID resolves an infohash to its content-id via the engine's
// server API.
func (c *Client) GetContentID(ctx context.Context, infohash string) (string, error) {
	params := url.Values{}
	params.Set("api_version", "3")
	params.Set("method", "get_content_id")
	params.Set("infohash", infohash)

	body, err := c.http.GetBody(ctx, c.address+"server/api?"+params.Encode())
	if err != nil {
		return "", fmt.Errorf("resolving infohash: %w", err)
	}

	var decoded struct {
		Result struct {
			ContentID string `json:"content_id"`
		} `json:"result"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decoding infohash resolution: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("engine resolution error: %s", decoded.Error)
	}
	return decoded.Result.ContentID, nil
}
