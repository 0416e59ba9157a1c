package prompts

import (
	"strings"
	"unicode"
)

// Length caps for user-supplied values interpolated into prompts.
const (
	MaxNameLength  = 40
	MaxThemeLength = 80
	MaxAvoidLength = 80
	MaxTitleLength = 80
)

// Sanitize strips characters that could read as template or markup syntax,
// drops control characters, collapses whitespace and caps the length in
// runes.
func Sanitize(s string, max int) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case strings.ContainsRune("{}<>`$\\", r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}

	out := b.String()
	if max > 0 {
		runes := []rune(out)
		if len(runes) > max {
			out = strings.TrimSpace(string(runes[:max]))
		}
	}
	return out
}

// SanitizeList sanitizes each entry and drops the ones left empty.
func SanitizeList(items []string, max int) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := Sanitize(item, max); s != "" {
			out = append(out, s)
		}
	}
	return out
}
