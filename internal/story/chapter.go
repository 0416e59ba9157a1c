package story

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Chapter is generated text plus the spec it was written against. Immutable
// once accepted into the story's chapter list.
type Chapter struct {
	StoryID          string      `json:"story_id"`
	Number           int         `json:"number"`
	Title            string      `json:"title"`
	Text             string      `json:"text"`
	WordCount        int         `json:"word_count"`
	Spec             ChapterSpec `json:"spec"`
	Summary          string      `json:"summary"`
	Ending           string      `json:"ending"`
	Regenerated      bool        `json:"regenerated"`
	ContinuityPassed bool        `json:"continuity_passed"`
	Violations       []string    `json:"violations,omitempty"`
}

// Story is a finished, scored story ready for persistence.
type Story struct {
	ID            string       `json:"id"`
	BriefID       string       `json:"brief_id"`
	Title         string       `json:"title"`
	Genre         string       `json:"genre"`
	ReadingLevel  ReadingLevel `json:"reading_level"`
	Status        Status       `json:"status"`
	WordCount     int          `json:"word_count"`
	QualityScore  int          `json:"quality_score"`
	SafetyPassed  bool         `json:"safety_passed"`
	ValuesAverage float64      `json:"values_average"`
	CoverURL      string       `json:"cover_url"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Record is everything persisted for one finished story. Audit carries the
// run's assessment records and never feeds back into generation.
type Record struct {
	Story    Story
	Chapters []Chapter
	DNA      *DNA
	Audit    json.RawMessage
}

// CountWords counts whitespace-separated tokens that contain a letter or digit.
func CountWords(text string) int {
	count := 0
	for _, field := range strings.Fields(text) {
		if strings.IndexFunc(field, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) >= 0 {
			count++
		}
	}
	return count
}

// Assemble joins chapters into one manuscript with chapter headings.
func Assemble(title string, chapters []Chapter) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(title)
	b.WriteString("\n\n")
	for _, ch := range chapters {
		b.WriteString("## Chapter ")
		b.WriteString(strconv.Itoa(ch.Number))
		if ch.Title != "" {
			b.WriteString(": ")
			b.WriteString(ch.Title)
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(ch.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}
