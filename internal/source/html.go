package source

import (
	"html"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/microcosm-cc/bluemonday"
)

// minArticleChars is the shortest readability output trusted over a plain tag strip.
const minArticleChars = 200

var strictPolicy = bluemonday.StrictPolicy()

// plainText strips markup from feed summaries and collapses whitespace.
func plainText(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	text := html.UnescapeString(strictPolicy.Sanitize(raw))
	return strings.Join(strings.Fields(text), " ")
}

// articleText extracts the readable body of a full article embedded in a feed entry
// (content:encoded). Short or failed extractions fall back to plainText.
func articleText(rawHTML, link string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}

	var pageURL *url.URL
	if parsed, err := url.Parse(strings.TrimSpace(link)); err == nil && parsed.Host != "" {
		pageURL = parsed
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), pageURL)
	if err == nil {
		var buf strings.Builder
		if err := article.RenderText(&buf); err == nil {
			text := strings.Join(strings.Fields(buf.String()), " ")
			if len(text) >= minArticleChars {
				return text
			}
		}
	}
	return plainText(rawHTML)
}
