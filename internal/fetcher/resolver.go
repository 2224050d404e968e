package fetcher

import (
	"encoding/base64"
	"net/url"
	"strings"
)

const aggregatorPathMarker = "news.google.com/rss/articles/"

// isAggregatorURL reports whether the URL is a known aggregator redirect.
func isAggregatorURL(rawURL string) bool {
	return strings.Contains(rawURL, aggregatorPathMarker)
}

// decodeAggregatorURL attempts structural decoding of the aggregator token:
// the path segment after /rss/articles/ is base64 and, for older tokens,
// carries the target URL embedded as a plain http(s) substring. Returns
// ("", false) when no valid URL can be recovered, in which case the caller
// falls back to browser navigation.
func decodeAggregatorURL(rawURL string) (string, bool) {
	idx := strings.Index(rawURL, aggregatorPathMarker)
	if idx < 0 {
		return "", false
	}
	token := rawURL[idx+len(aggregatorPathMarker):]
	if q := strings.IndexAny(token, "?#"); q >= 0 {
		token = token[:q]
	}
	if token == "" {
		return "", false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		if decoded, err = base64.StdEncoding.DecodeString(token); err != nil {
			return "", false
		}
	}

	return extractEmbeddedURL(decoded)
}

// extractEmbeddedURL scans decoded bytes for an http(s) URL substring.
func extractEmbeddedURL(data []byte) (string, bool) {
	s := string(data)
	for _, scheme := range []string{"https://", "http://"} {
		start := strings.Index(s, scheme)
		if start < 0 {
			continue
		}
		end := start
		for end < len(s) && isURLByte(s[end]) {
			end++
		}
		candidate := s[start:end]
		u, err := url.Parse(candidate)
		if err != nil || u.Hostname() == "" || !strings.Contains(u.Hostname(), ".") {
			continue
		}
		return candidate, true
	}
	return "", false
}

func isURLByte(b byte) bool {
	if b <= 0x20 || b >= 0x7f {
		return false
	}
	switch b {
	case '"', '\'', '<', '>', '\\', '^', '`', '{', '}', '|':
		return false
	}
	return true
}
