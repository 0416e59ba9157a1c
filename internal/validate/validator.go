// Package validate runs the deterministic checks applied to every chapter
// draft. It makes no model calls.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/vampirenirmal/storyforge/internal/story"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Kind string

const (
	KindPronoun      Kind = "pronoun_drift"
	KindUnregistered Kind = "unregistered_character"
	KindWordCount    Kind = "word_count"
	KindReadingLevel Kind = "reading_level"
)

var (
	// SubjectWindow is the leading fraction of a sentence in which a name is
	// taken to be the subject.
	SubjectWindow = 0.6
	// OverlongFactor scales the spec maximum into the hard upper bound.
	OverlongFactor = 1.5
	// MinMentions is how often an unknown capitalized word must appear before
	// it is reported.
	MinMentions = 2
)

var sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]*`)

// stoplist holds capitalized words that commonly start sentences or
// dialogue and are never character names.
var stoplist = toSet(
	"a", "an", "the", "i", "he", "she", "they", "we", "you", "it", "his", "her", "their", "our", "my", "your", "its",
	"and", "but", "or", "so", "then", "when", "while", "after", "before", "as", "if", "because", "until", "once",
	"this", "that", "these", "those", "there", "here", "what", "where", "who", "why", "how", "which",
	"yes", "no", "oh", "wow", "hey", "hello", "okay", "ok", "please", "thank", "thanks", "sorry",
	"at", "in", "on", "up", "down", "out", "with", "from", "to", "for", "of", "by", "over", "under",
	"all", "every", "each", "some", "now", "soon", "just", "still", "even", "maybe", "suddenly", "finally",
	"let", "look", "come", "go", "wait", "stop", "run", "see", "not", "do", "don't", "can", "will",
	"chapter", "mom", "dad", "mum", "grandma", "grandpa",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
)

// Violation is one finding against a chapter draft.
type Violation struct {
	Kind      Kind     `json:"kind"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Character string   `json:"character,omitempty"`
}

// Result is the validator's report for one draft.
type Result struct {
	WordCount         int         `json:"word_count"`
	AvgWordLength     float64     `json:"avg_word_length"`
	AvgSentenceLength float64     `json:"avg_sentence_length"`
	Violations        []Violation `json:"violations"`
}

// Passed reports whether no error-severity violation was found.
func (r Result) Passed() bool {
	return len(r.Errors()) == 0
}

func (r Result) Errors() []Violation {
	return r.filter(SeverityError)
}

func (r Result) Warnings() []Violation {
	return r.filter(SeverityWarning)
}

func (r Result) filter(s Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == s {
			out = append(out, v)
		}
	}
	return out
}

// Messages returns the violation messages in report order.
func (r Result) Messages() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Message
	}
	return out
}

// Chapter checks a draft against its spec and the locked roster. The same
// inputs always yield the same violations in the same order.
func Chapter(text string, spec story.ChapterSpec, roster map[string]story.PronounSet, level story.ReadingLevel) Result {
	sentences := splitSentences(text)
	res := Result{WordCount: story.CountWords(text)}

	res.Violations = append(res.Violations, checkWordCount(res.WordCount, spec)...)

	policy := story.PolicyFor(level)
	res.AvgWordLength, res.AvgSentenceLength = averages(sentences)
	if policy.Early() {
		res.Violations = append(res.Violations, checkReadingLevel(res, policy)...)
	}

	res.Violations = append(res.Violations, checkPronouns(sentences, roster)...)
	res.Violations = append(res.Violations, checkUnregistered(sentences, roster)...)
	return res
}

func checkWordCount(words int, spec story.ChapterSpec) []Violation {
	band := spec.WordCount
	switch {
	case band.Min > 0 && words < band.Min:
		return []Violation{{
			Kind:     KindWordCount,
			Severity: SeverityError,
			Message:  fmt.Sprintf("chapter has %d words, minimum is %d", words, band.Min),
		}}
	case band.Max > 0 && float64(words) > OverlongFactor*float64(band.Max):
		return []Violation{{
			Kind:     KindWordCount,
			Severity: SeverityError,
			Message:  fmt.Sprintf("chapter has %d words, more than %.1fx the maximum of %d", words, OverlongFactor, band.Max),
		}}
	}
	return nil
}

func checkReadingLevel(res Result, policy story.LevelPolicy) []Violation {
	var out []Violation
	if policy.MaxAvgWordLength > 0 && res.AvgWordLength > policy.MaxAvgWordLength {
		out = append(out, Violation{
			Kind:     KindReadingLevel,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("average word length %.2f exceeds %.1f for %s readers", res.AvgWordLength, policy.MaxAvgWordLength, policy.Level),
		})
	}
	if policy.MaxAvgSentenceLength > 0 && res.AvgSentenceLength > policy.MaxAvgSentenceLength {
		out = append(out, Violation{
			Kind:     KindReadingLevel,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("average sentence length %.1f words exceeds %.0f for %s readers", res.AvgSentenceLength, policy.MaxAvgSentenceLength, policy.Level),
		})
	}
	return out
}

// checkPronouns flags opposite-set pronouns that follow a sentence's single
// named subject.
func checkPronouns(sentences [][]string, roster map[string]story.PronounSet) []Violation {
	names := sortedNames(roster)
	var out []Violation
	for i, words := range sentences {
		var found string
		pos, count := -1, 0
		for _, name := range names {
			if p := indexName(words, name); p >= 0 {
				found, pos = name, p
				count++
			}
		}
		if count != 1 || float64(pos) >= SubjectWindow*float64(len(words)) {
			continue
		}

		opposite := toSet(roster[found].Opposite()...)
		end := pos + len(strings.Fields(found))
		for _, w := range words[end:] {
			if opposite[strings.ToLower(w)] {
				out = append(out, Violation{
					Kind:      KindPronoun,
					Severity:  SeverityWarning,
					Message:   fmt.Sprintf("%s (%s) is referred to as %q in sentence %d", found, roster[found], strings.ToLower(w), i+1),
					Character: found,
				})
				break
			}
		}
	}
	return out
}

// checkUnregistered reports capitalized words that recur but are not on the
// roster. Words also used in lower case are ordinary vocabulary.
func checkUnregistered(sentences [][]string, roster map[string]story.PronounSet) []Violation {
	known := make(map[string]bool)
	for name := range roster {
		for _, part := range strings.Fields(name) {
			known[strings.ToLower(part)] = true
		}
	}

	counts := make(map[string]int)
	lower := make(map[string]bool)
	for _, words := range sentences {
		for _, w := range words {
			r := []rune(w)
			if !unicode.IsUpper(r[0]) {
				lower[strings.ToLower(w)] = true
				continue
			}
			counts[w]++
		}
	}

	candidates := make([]string, 0, len(counts))
	for w, n := range counts {
		key := strings.ToLower(w)
		if n < MinMentions || known[key] || stoplist[key] || lower[key] || len([]rune(w)) < 2 {
			continue
		}
		candidates = append(candidates, w)
	}
	sort.Strings(candidates)

	out := make([]Violation, 0, len(candidates))
	for _, w := range candidates {
		out = append(out, Violation{
			Kind:      KindUnregistered,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("possible unregistered character %q (%d mentions)", w, counts[w]),
			Character: w,
		})
	}
	return out
}

// splitSentences returns each sentence as its word tokens, dropping
// sentences with no words.
func splitSentences(text string) [][]string {
	var out [][]string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		if words := tokenize(s); len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}

// tokenize splits on anything but letters, digits and inner apostrophes, and
// strips possessive endings.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
	words := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'’")
		f = strings.TrimSuffix(strings.TrimSuffix(f, "'s"), "’s")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

func averages(sentences [][]string) (wordLen, sentenceLen float64) {
	words, letters := 0, 0
	for _, s := range sentences {
		for _, w := range s {
			words++
			for _, r := range w {
				if unicode.IsLetter(r) || unicode.IsDigit(r) {
					letters++
				}
			}
		}
	}
	if words == 0 {
		return 0, 0
	}
	return float64(letters) / float64(words), float64(words) / float64(len(sentences))
}

// indexName returns the token index where name starts, or -1.
func indexName(words []string, name string) int {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return -1
	}
	for i := 0; i+len(parts) <= len(words); i++ {
		match := true
		for j, p := range parts {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func sortedNames(roster map[string]story.PronounSet) []string {
	names := make([]string, 0, len(roster))
	for name := range roster {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toSet(items ...string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item] = true
	}
	return out
}
