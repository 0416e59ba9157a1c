package storage

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// StoryDir names a story's archive directory: date, title slug and short id,
// e.g. stories/2026-03-01_the-brave-little-kite_82f06b15.
func StoryDir(storyID, title string, createdAt time.Time) string {
	shortID := storyID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	return path.Join("stories", fmt.Sprintf("%s_%s_%s",
		createdAt.UTC().Format("2006-01-02"), slugify(title, 40), shortID))
}

// slugify converts a title to a safe, lowercase directory component.
func slugify(s string, maxLen int) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			hyphen = false
		case r == ' ' || r == '-' || r == '_' || r == '/' || r == '.' || r == ':':
			if !hyphen && b.Len() > 0 {
				b.WriteByte('-')
				hyphen = true
			}
		}
	}

	out := strings.Trim(b.String(), "-")
	if len(out) > maxLen {
		out = strings.TrimRight(out[:maxLen], "-")
	}
	if out == "" {
		out = "story"
	}
	return out
}
