package validate

import (
	"reflect"
	"strings"
	"testing"

	"github.com/vampirenirmal/storyforge/internal/story"
	"github.com/vampirenirmal/storyforge/internal/story/storytest"
)

func earlySpec() story.ChapterSpec {
	return story.ChapterSpec{Number: 1, WordCount: story.WordBand{Min: 350, Max: 650}}
}

func TestChapterCleanDraftPasses(t *testing.T) {
	for _, words := range []int{350, 500, 650} {
		res := Chapter(storytest.ChapterText(words), earlySpec(), storytest.Roster(), story.LevelEarly)
		if len(res.Violations) != 0 {
			t.Errorf("%d words: violations = %+v", words, res.Violations)
		}
		if res.WordCount != words {
			t.Errorf("word count = %d, want %d", res.WordCount, words)
		}
	}
}

func TestChapterWordCountBounds(t *testing.T) {
	tests := []struct {
		name   string
		words  int
		passed bool
	}{
		{"below minimum", 349, false},
		{"at minimum", 350, true},
		{"above maximum within tolerance", 975, true},
		{"beyond tolerance", 976, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Chapter(storytest.ChapterText(tt.words), earlySpec(), storytest.Roster(), story.LevelAdvanced)
			if res.Passed() != tt.passed {
				t.Errorf("Passed() = %v, want %v: %+v", res.Passed(), tt.passed, res.Violations)
			}
			for _, v := range res.Errors() {
				if v.Kind != KindWordCount {
					t.Errorf("unexpected error kind %s", v.Kind)
				}
			}
		})
	}
}

func TestChapterPronounDrift(t *testing.T) {
	roster := storytest.Roster()
	tests := []struct {
		name     string
		sentence string
		want     string
	}{
		{"subject with opposite pronoun", "Mia picked up his red bag.", "Mia"},
		{"possessive subject", "Leo's kite hit her hat and fell.", "Leo"},
		{"two names skipped", "Leo gave Mia her kite back.", ""},
		{"name late in sentence", "The kite flew far away from the tree and Mia and he laughed.", ""},
		{"matching pronoun", "Mia held her kite tight.", ""},
		{"they has no opposite", "Pip said he was fine.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := story.ChapterSpec{Number: 1}
			res := Chapter(tt.sentence, spec, roster, story.LevelAdvanced)

			var got []Violation
			for _, v := range res.Violations {
				if v.Kind == KindPronoun {
					got = append(got, v)
				}
			}
			if tt.want == "" {
				if len(got) != 0 {
					t.Errorf("unexpected drift: %+v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Character != tt.want || got[0].Severity != SeverityWarning {
				t.Errorf("drift = %+v, want one warning for %s", got, tt.want)
			}
		})
	}
}

func TestChapterUnregisteredCharacters(t *testing.T) {
	text := "Mia met Zara at the gate. Zara waved. The Wind was loud. The wind was cold. " +
		"Then Mia ran. Then Leo ran. Bob came once. Captain Hook smiled. Captain Hook left."
	res := Chapter(text, story.ChapterSpec{Number: 1}, storytest.Roster(), story.LevelAdvanced)

	var got []string
	for _, v := range res.Violations {
		if v.Kind == KindUnregistered {
			got = append(got, v.Character)
		}
	}
	want := []string{"Captain", "Hook", "Zara"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unregistered = %v, want %v", got, want)
	}
}

func TestChapterEarlyReaderHeuristics(t *testing.T) {
	long := strings.Repeat("Extraordinarily magnificent adventurers contemplated incomprehensible constellations throughout the extraordinarily tempestuous evening, remembering everything their grandparents explained. ", 40)
	spec := story.ChapterSpec{Number: 1}

	res := Chapter(long, spec, storytest.Roster(), story.LevelEarly)
	var kinds int
	for _, v := range res.Violations {
		if v.Kind == KindReadingLevel {
			kinds++
			if v.Severity != SeverityWarning {
				t.Errorf("reading level violation should warn: %+v", v)
			}
		}
	}
	if kinds != 2 {
		t.Errorf("reading level violations = %d, want 2: %+v", kinds, res.Violations)
	}

	res = Chapter(long, spec, storytest.Roster(), story.LevelIndependent)
	for _, v := range res.Violations {
		if v.Kind == KindReadingLevel {
			t.Errorf("heuristics applied above early level: %+v", v)
		}
	}
}

func TestChapterIsIdempotent(t *testing.T) {
	text := storytest.ChapterText(200) + " Mia lost his hat. Zara laughed. Zara left."
	first := Chapter(text, earlySpec(), storytest.Roster(), story.LevelEarly)
	second := Chapter(text, earlySpec(), storytest.Roster(), story.LevelEarly)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
	if len(first.Violations) < 3 {
		t.Errorf("expected word count, pronoun and name findings: %+v", first.Violations)
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize(`"Mia's kite!" said Leo, don't-stop.`)
	want := []string{"Mia", "kite", "said", "Leo", "don't", "stop"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tokenize() = %v, want %v", got, want)
	}
}

func TestIndexNameMultiWord(t *testing.T) {
	words := []string{"Then", "Grandpa", "Oak", "smiled"}
	if got := indexName(words, "Grandpa Oak"); got != 1 {
		t.Errorf("indexName() = %d, want 1", got)
	}
	if got := indexName(words, "Oak Tree"); got != -1 {
		t.Errorf("indexName() = %d, want -1", got)
	}
}
