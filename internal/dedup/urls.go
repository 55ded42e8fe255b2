package dedup

import (
	"net/url"
	"sort"
	"strings"
)

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"spm":     {},
}

// CanonicalURL lower-cases scheme and host, drops default ports, fragments and tracking
// parameters, and sorts the remaining query. Unparseable or relative URLs return "".
func CanonicalURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			host = host + ":" + port
		}
	}
	parsed.Host = host
	parsed.User = nil
	parsed.Fragment = ""
	parsed.RawFragment = ""

	path := strings.TrimSpace(parsed.EscapedPath())
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		parsed.Path = unescaped
		parsed.RawPath = path
	}

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	for key := range q {
		sort.Strings(q[key])
	}
	// Encode sorts by key.
	parsed.RawQuery = q.Encode()

	return parsed.String()
}

type urlParts struct {
	host     string
	segments map[string]struct{}
}

func splitURL(canonical string) urlParts {
	if canonical == "" {
		return urlParts{}
	}
	parsed, err := url.Parse(canonical)
	if err != nil {
		return urlParts{}
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	segments := make(map[string]struct{})
	for _, seg := range strings.Split(strings.ToLower(parsed.Path), "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		segments[seg] = struct{}{}
	}
	return urlParts{host: host, segments: segments}
}

// URLSimilarity scores two canonical URLs in [0,1]. Different hosts score 0; on the same
// host the score is 0.5 plus half the Jaccard overlap of path segments.
func URLSimilarity(left, right string) float64 {
	return partsSimilarity(splitURL(left), splitURL(right))
}

func partsSimilarity(left, right urlParts) float64 {
	if left.host == "" || right.host == "" || left.host != right.host {
		return 0
	}
	if len(left.segments) == 0 && len(right.segments) == 0 {
		return 1
	}
	return 0.5 + 0.5*Jaccard(left.segments, right.segments)
}
