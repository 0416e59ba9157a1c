package dna

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vampirenirmal/storyforge/internal/core"
	"github.com/vampirenirmal/storyforge/internal/gateway"
	"github.com/vampirenirmal/storyforge/internal/prompts"
	"github.com/vampirenirmal/storyforge/internal/story"
	"github.com/vampirenirmal/storyforge/internal/story/storytest"
)

func fixtureHandler(req gateway.Request) (gateway.Completion, error) {
	text, ok := storytest.StageResponse(req.Operation)
	if !ok {
		return gateway.Completion{}, errors.New("unexpected operation " + req.Operation)
	}
	return gateway.Completion{Text: text}, nil
}

func newSynth(client gateway.Completer) *Synthesizer {
	fixed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	return New(client, prompts.NewLibrary(""), WithClock(func() time.Time { return fixed }))
}

func TestSynthesizeHappyPath(t *testing.T) {
	client := gateway.NewMockClient(fixtureHandler)
	s := newSynth(client)

	res, err := s.Synthesize(context.Background(), storytest.Brief())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	d := res.DNA

	if d.StoryID == "" {
		t.Error("story id not assigned")
	}
	if d.Meta.Title != storytest.Title {
		t.Errorf("title = %q, want %q", d.Meta.Title, storytest.Title)
	}
	if res.TitleFallback {
		t.Error("title fallback used on success")
	}
	if d.Meta.AgeRange != "5-7" || d.Meta.ChapterCount != 3 {
		t.Errorf("meta = %+v", d.Meta)
	}
	if got := d.CharacterNames(); strings.Join(got, ",") != "Leo,Mia,Pip" {
		t.Errorf("roster = %v", got)
	}
	if d.Characters["Mia"].Pronouns != story.PronounsShe {
		t.Errorf("Mia pronouns = %q", d.Characters["Mia"].Pronouns)
	}
	if d.Characters["Mia"].Archetype != story.ArchetypeHero {
		t.Errorf("Mia archetype = %q", d.Characters["Mia"].Archetype)
	}
	if d.CharacterTensions[0].Type != story.TensionCompetingGoals {
		t.Errorf("tension type = %q", d.CharacterTensions[0].Type)
	}
	if got := d.CharacterTensions[0].SurfacesIn; len(got) != 2 {
		t.Errorf("surfaces_in = %v, want out-of-range chapter dropped", got)
	}
	if got := d.ChapterSpecs[1].Characters[0]; got != "Mia" {
		t.Errorf("chapter 2 character = %q, want canonical Mia", got)
	}
	if d.ChapterSpecs[2].SceneType != story.SceneReflection {
		t.Errorf("scene type = %q", d.ChapterSpecs[2].SceneType)
	}
	if d.KnowledgeProgression[1].Importance != story.ImportanceHigh {
		t.Errorf("importance = %q", d.KnowledgeProgression[1].Importance)
	}
	if d.KnowledgeProgression[2].Importance != story.ImportanceMedium {
		t.Errorf("default importance = %q", d.KnowledgeProgression[2].Importance)
	}
	if got := d.StoryState.CharacterKnowledge["Mia"]; len(got) != 1 || got[0].LearnedInChapter != 0 {
		t.Errorf("ledger not seeded from chapter 0: %+v", d.StoryState.CharacterKnowledge)
	}
	if !d.EditorialChecklist.PronounsLocked || d.EditorialChecklist.ContinuityChecked {
		t.Errorf("checklist = %+v", d.EditorialChecklist)
	}
	for _, stage := range []string{StageFoundation, StageCharacters, StageChapters} {
		if res.Tries[stage] != 1 {
			t.Errorf("tries[%s] = %d, want 1", stage, res.Tries[stage])
		}
		if _, ok := res.Timings[stage]; !ok {
			t.Errorf("no timing for %s", stage)
		}
	}
	if err := d.Validate(); err != nil {
		t.Errorf("merged dna invalid: %v", err)
	}
}

func TestSynthesizePassesEarlierStagesForward(t *testing.T) {
	client := gateway.NewMockClient(fixtureHandler)
	if _, err := newSynth(client).Synthesize(context.Background(), storytest.Brief()); err != nil {
		t.Fatal(err)
	}

	chars := client.CallsFor("dna_characters")
	if len(chars) != 1 || !strings.Contains(chars[0].UserPrompt(), "windy hill") {
		t.Error("characters prompt does not include the foundation summary")
	}
	plan := client.CallsFor("dna_chapters")
	if len(plan) != 1 || !strings.Contains(plan[0].UserPrompt(), "Mia (she/her)") {
		t.Error("chapters prompt does not include the cast summary")
	}
}

func TestSynthesizeRetriesChapterCountMismatch(t *testing.T) {
	var calls atomic.Int32
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		if req.Operation == "dna_chapters" && calls.Add(1) == 1 {
			return gateway.Completion{Text: `{"chapters": [{"number": 1, "title": "Only", "objective": "x", "scene_type": "action"}]}`}, nil
		}
		return fixtureHandler(req)
	})

	res, err := newSynth(client).Synthesize(context.Background(), storytest.Brief())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if res.Tries[StageChapters] != 2 {
		t.Errorf("chapters tries = %d, want 2", res.Tries[StageChapters])
	}

	reqs := client.CallsFor("dna_chapters")
	if reqs[0].UserPrompt() == reqs[1].UserPrompt() {
		t.Error("retry reused the same phrasing")
	}
}

func TestSynthesizeExhaustsStageBudget(t *testing.T) {
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		if req.Operation == "dna_foundation" {
			return gateway.Completion{Text: "I would love to help with that story!"}, nil
		}
		return fixtureHandler(req)
	})

	_, err := newSynth(client).Synthesize(context.Background(), storytest.Brief())

	var stageErr *core.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error = %v, want StageError", err)
	}
	if stageErr.Stage != StageFoundation || stageErr.Attempt != 9 {
		t.Errorf("stage error = %s after %d tries, want foundation after 9", stageErr.Stage, stageErr.Attempt)
	}
	if !core.IsMalformed(err) {
		t.Errorf("error %v should be malformed output", err)
	}
	if n := len(client.CallsFor("dna_characters")); n != 0 {
		t.Errorf("characters ran %d times after foundation failed", n)
	}
}

func TestSynthesizeStopsOnAuthError(t *testing.T) {
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		return gateway.Completion{}, &core.APIError{StatusCode: 401, Kind: core.ErrAuth}
	})

	_, err := newSynth(client).Synthesize(context.Background(), storytest.Brief())
	if !errors.Is(err, core.ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
	if n := len(client.Calls()); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestSynthesizeRejectsUnrequestedCharacter(t *testing.T) {
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		if req.Operation == "dna_characters" {
			text := strings.Replace(storytest.CharactersJSON, `"name": "Pip"`, `"name": "Zed"`, 1)
			return gateway.Completion{Text: text}, nil
		}
		return fixtureHandler(req)
	})

	_, err := New(client, prompts.NewLibrary(""), WithBudget(1, 2)).Synthesize(context.Background(), storytest.Brief())
	var stageErr *core.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageCharacters {
		t.Fatalf("error = %v, want characters StageError", err)
	}
	var valErr *core.ValidationError
	if !errors.As(err, &valErr) || valErr.Value != "Zed" {
		t.Errorf("validation error = %v, want unrequested Zed", valErr)
	}
	if stageErr.Attempt != 2 {
		t.Errorf("tries = %d, want 2", stageErr.Attempt)
	}
}

func TestSynthesizeTitleFallback(t *testing.T) {
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		if req.Operation == "dna_title" {
			return gateway.Completion{}, core.ErrServerError
		}
		return fixtureHandler(req)
	})

	res, err := newSynth(client).Synthesize(context.Background(), storytest.Brief())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if !res.TitleFallback || res.DNA.Meta.Title != "Courage Adventure" {
		t.Errorf("title = %q fallback=%v, want Courage Adventure", res.DNA.Meta.Title, res.TitleFallback)
	}
}

func TestSynthesizeSanitizesBrief(t *testing.T) {
	client := gateway.NewMockClient(fixtureHandler)
	b := storytest.Brief()
	b.Themes = []string{"friendship {{.Secret}}", "<script>nature</script>"}

	if _, err := newSynth(client).Synthesize(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	prompt := client.CallsFor("dna_foundation")[0].UserPrompt()
	for _, bad := range []string{"{{", "<script>"} {
		if strings.Contains(prompt, bad) {
			t.Errorf("prompt contains %q:\n%s", bad, prompt)
		}
	}
}

func TestFallbackTitle(t *testing.T) {
	tests := []struct {
		virtue string
		want   string
	}{
		{"courage", "Courage Adventure"},
		{"self control", "Self Control Adventure"},
		{"", "Adventure"},
	}
	for _, tt := range tests {
		t.Run(tt.virtue, func(t *testing.T) {
			if got := FallbackTitle(tt.virtue); got != tt.want {
				t.Errorf("FallbackTitle(%q) = %q, want %q", tt.virtue, got, tt.want)
			}
		})
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"The Brave Kite"`, "The Brave Kite"},
		{"Title: Up the Hill\nA story about courage", "Up the Hill"},
		{"**Mia Climbs**", "Mia Climbs"},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := cleanTitle(tt.in); got != tt.want {
				t.Errorf("cleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeEnum(t *testing.T) {
	tests := map[string]string{
		"Competing Goals": "competing_goals",
		" HERO ":          "hero",
		"competing-goals": "competing_goals",
		"":                "",
	}
	for in, want := range tests {
		if got := normalizeEnum(in); got != want {
			t.Errorf("normalizeEnum(%q) = %q, want %q", in, got, want)
		}
	}
}
