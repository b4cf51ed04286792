// Package hls rewrites engine HLS playlists so clients only ever see
// gateway URLs. The engine hands out playlists referencing its own origin;
// every such line is rebased onto the gateway's external origin and stamped
// with the caller's stream token.
package hls

import (
	"strings"
)

// enginePathMarkers are the path prefixes the engine uses for segments and
// nested playlists. A playlist line referencing any of them belongs to the
// engine origin and must be rebased.
var enginePathMarkers = []string{"/ace/c/", "/hls/c/", "/hls/m/"}

// RewritePlaylist rebases every engine-origin line in an HLS playlist onto
// externalURL, appending the token query parameter when token is non-empty.
// #EXT-X-MEDIA lines carrying a URI are dropped entirely; some players
// follow them to the engine host and break.
func RewritePlaylist(body []byte, externalURL, token string) []byte {
	origin := strings.TrimSuffix(externalURL, "/")

	lines := strings.Split(string(body), "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#EXT-X-MEDIA:") && strings.Contains(trimmed, "URI=") {
			continue
		}
		if strings.HasPrefix(trimmed, "#") || trimmed == "" {
			out = append(out, line)
			continue
		}

		out = append(out, rewriteLine(trimmed, origin, token))
	}

	return []byte(strings.Join(out, "\n"))
}

// rewriteLine rebases a single URI line. Lines that do not reference an
// engine path pass through untouched.
func rewriteLine(line, origin, token string) string {
	idx := -1
	for _, marker := range enginePathMarkers {
		if i := strings.Index(line, marker); i >= 0 && (idx == -1 || i < idx) {
			idx = i
		}
	}
	if idx == -1 {
		return line
	}

	rebased := origin + line[idx:]
	if token != "" {
		sep := "?"
		if strings.Contains(rebased, "?") {
			sep = "&"
		}
		rebased += sep + "token=" + token
	}
	return rebased
}

// IsPlaylist reports whether the body looks like an HLS playlist at all.
func IsPlaylist(body []byte) bool {
	return strings.Contains(string(body), "#EXTM3U")
}
