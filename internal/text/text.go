// Package text normalizes raw post bodies and image metadata.
package text

import (
	"html"
	"regexp"
	"strings"
)

var tagRe = regexp.MustCompile(`<[^>]+>`)

// StripHTML removes markup tags and unescapes HTML entities.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	noTags := tagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(noTags))
}

// LargeImageURL resolves the canonical image URL from a pics item.
// The mobile API reports either {pid, large: {url}} or a flat {pid, url}.
func LargeImageURL(pic map[string]any) string {
	if pic == nil {
		return ""
	}
	if large, ok := pic["large"].(map[string]any); ok {
		if u, ok := large["url"].(string); ok && u != "" {
			return u
		}
	}
	if u, ok := pic["url"].(string); ok {
		return u
	}
	return ""
}
