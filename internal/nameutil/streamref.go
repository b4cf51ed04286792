package nameutil

import "strings"

// Source documents reference engine streams with a small set of well-known URL
// shapes. The 127.0.0.1:6878 host is a literal marker used by upstream sites;
// the gateway substitutes its configured engine address when dialling out.
var contentIDPrefixes = []string{
	"acestream://",
	"http://127.0.0.1:6878/ace/getstream?id=",
	"http://127.0.0.1:6878/ace/getstream?content_id=",
	"http://127.0.0.1:6878/ace/manifest.m3u8?id=",
	"http://127.0.0.1:6878/ace/manifest.m3u8?content_id=",
	"plugin://script.module.horus?action=play&id=",
}

var infohashPrefixes = []string{
	"http://127.0.0.1:6878/ace/getstream?infohash=",
	"http://127.0.0.1:6878/ace/manifest.m3u8?infohash=",
}

// HasStreamRefPrefix reports whether url begins with any recognised stream
// reference prefix (content-id or infohash variant).
func HasStreamRefPrefix(url string) bool {
	for _, p := range contentIDPrefixes {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	for _, p := range infohashPrefixes {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}

// ExtractContentID extracts a content-id from a recognised stream reference
// URL. The second return is false when the URL does not match any prefix or
// the extracted value is not a valid 40-hex id.
func ExtractContentID(url string) (string, bool) {
	return extractRef(url, contentIDPrefixes)
}

// ExtractInfohash extracts an infohash from a recognised infohash-variant URL.
func ExtractInfohash(url string) (string, bool) {
	return extractRef(url, infohashPrefixes)
}

func extractRef(url string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if !strings.HasPrefix(url, p) {
			continue
		}
		id := strings.ToLower(url[len(p):])
		// Drop any trailing query parameters.
		if i := strings.IndexAny(id, "&?"); i >= 0 {
			id = id[:i]
		}
		if IsValidContentID(id) {
			return id, true
		}
	}
	return "", false
}
