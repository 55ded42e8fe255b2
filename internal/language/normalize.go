package language

import (
	"strings"

	textlang "golang.org/x/text/language"
)

// NormalizeTag normalizes a language tag to lowercase and "-" separators.
// Returns an empty string when the value is blank or contains invalid characters.
func NormalizeTag(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}

	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == '-' || r == '_' })
	for _, part := range parts {
		if !isAlphaLower(part) {
			return ""
		}
	}
	return strings.Join(parts, "-")
}

// NormalizeCode returns the primary language subtag (for example, "en" from "en-US").
func NormalizeCode(raw string) string {
	tag := NormalizeTag(raw)
	if dash := strings.IndexByte(tag, '-'); dash >= 0 {
		return tag[:dash]
	}
	return tag
}

// CaseTag maps a language hint to the tag used for locale-aware case mapping.
// Unknown or empty hints map to language.Und, which applies the default Unicode rules.
func CaseTag(raw string) textlang.Tag {
	code := NormalizeCode(raw)
	if code == "" {
		return textlang.Und
	}
	tag, err := textlang.Parse(code)
	if err != nil {
		return textlang.Und
	}
	return tag
}

func isAlphaLower(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
