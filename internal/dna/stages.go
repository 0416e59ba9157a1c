package dna

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vampirenirmal/storyforge/internal/core"
	"github.com/vampirenirmal/storyforge/internal/gateway"
	"github.com/vampirenirmal/storyforge/internal/prompts"
	"github.com/vampirenirmal/storyforge/internal/story"
)

// stageInput is the sanitized brief plus the compressed output of earlier
// stages. It is the data every stage template renders.
type stageInput struct {
	Level       story.ReadingLevel
	AgeRange    string
	Genre       string
	Virtue      string
	Themes      []string
	Avoid       []string
	Names       []string
	CastSize    int
	Chapters    int
	TargetWords int
	MinWords    int
	MaxWords    int

	Foundation string
	Cast       string
}

func newStageInput(b story.Brief) stageInput {
	policy := story.PolicyFor(b.ReadingLevel)
	chapters := b.TargetChapters
	if chapters <= 0 {
		chapters = policy.Chapters
	}
	words := b.TargetWords
	if words <= 0 {
		words = policy.TargetWords
	}
	perChapter := words / chapters

	return stageInput{
		Level:       policy.Level,
		AgeRange:    policy.AgeRange,
		Genre:       prompts.Sanitize(b.Genre, prompts.MaxNameLength),
		Virtue:      prompts.Sanitize(b.Virtue, prompts.MaxNameLength),
		Themes:      prompts.SanitizeList(b.Themes, prompts.MaxThemeLength),
		Avoid:       prompts.SanitizeList(b.Avoid, prompts.MaxAvoidLength),
		Names:       prompts.SanitizeList(b.CharacterNames, prompts.MaxNameLength),
		CastSize:    policy.CastSize,
		Chapters:    chapters,
		TargetWords: words,
		MinWords:    perChapter * 7 / 10,
		MaxWords:    perChapter * 13 / 10,
	}
}

// foundation is the stage 1 output.
type foundation struct {
	WorldBible    story.WorldBible    `json:"world_bible"`
	PlotStructure story.PlotStructure `json:"plot_structure"`
}

func (s *Synthesizer) foundation(ctx context.Context, in stageInput, variation int) (foundation, error) {
	prompt, err := s.prompts.Render(prompts.Variation(prompts.Foundation, variation), in)
	if err != nil {
		return foundation{}, err
	}

	var out foundation
	if err := gateway.DecodeJSON(ctx, s.client, s.request(StageFoundation, prompt, 0.8), &out); err != nil {
		return foundation{}, err
	}
	if err := out.check(in.Chapters); err != nil {
		return foundation{}, err
	}
	return out, nil
}

func (f *foundation) check(chapters int) error {
	f.WorldBible.Setting = strings.TrimSpace(f.WorldBible.Setting)
	f.PlotStructure.CentralConflict = strings.TrimSpace(f.PlotStructure.CentralConflict)

	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%s: %w: %v", StageFoundation, core.ErrMalformedOutput, err)
	}
	for n := range f.PlotStructure.ReversalPlan {
		if n < 1 || n > chapters {
			return core.NewValidationError(StageFoundation, "reversal_plan",
				fmt.Sprintf("chapter %d outside 1..%d", n, chapters), n)
		}
	}
	return nil
}

// summary compresses the foundation for later stage prompts.
func (f foundation) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Setting: %s\n", clip(f.WorldBible.Setting, 300))
	if f.WorldBible.Atmosphere != "" {
		fmt.Fprintf(&b, "Atmosphere: %s\n", clip(f.WorldBible.Atmosphere, 120))
	}
	b.WriteString("Rules:")
	for _, r := range f.WorldBible.Rules {
		fmt.Fprintf(&b, " %s (if broken: %s);", clip(r.Rule, 100), clip(r.Consequence, 100))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Conflict: %s\n", clip(f.PlotStructure.CentralConflict, 200))
	if f.PlotStructure.CentralTheme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", clip(f.PlotStructure.CentralTheme, 120))
	}
	fmt.Fprintf(&b, "Stakes: %s", strings.Join(clipAll(f.PlotStructure.EmotionalStakes, 80), " > "))
	return b.String()
}

// cast is the stage 2 output.
type cast struct {
	Characters []story.CharacterProfile `json:"characters" validate:"min=1,max=8,dive"`
	Tensions   []story.Tension          `json:"tensions" validate:"dive"`
}

func (s *Synthesizer) characters(ctx context.Context, in stageInput, variation int) (cast, error) {
	prompt, err := s.prompts.Render(prompts.Variation(prompts.Characters, variation), in)
	if err != nil {
		return cast{}, err
	}

	var out cast
	if err := gateway.DecodeJSON(ctx, s.client, s.request(StageCharacters, prompt, 0.8), &out); err != nil {
		return cast{}, err
	}
	if err := out.check(in.Names, in.Chapters); err != nil {
		return cast{}, err
	}
	return out, nil
}

func (c *cast) check(requested []string, chapters int) error {
	canonical := make(map[string]string, len(requested))
	for _, name := range requested {
		canonical[strings.ToLower(name)] = name
	}

	seen := make(map[string]bool)
	for i := range c.Characters {
		p := &c.Characters[i]
		p.Name = strings.TrimSpace(p.Name)
		if want, ok := canonical[strings.ToLower(p.Name)]; ok {
			p.Name = want
		} else if len(requested) > 0 {
			return core.NewValidationError(StageCharacters, "name", "character not in requested cast", p.Name)
		}
		if seen[p.Name] {
			return core.NewValidationError(StageCharacters, "name", "duplicate character", p.Name)
		}
		seen[p.Name] = true

		if set, ok := story.ParsePronounSet(string(p.Pronouns)); ok {
			p.Pronouns = set
		}
		p.Archetype = story.Archetype(normalizeEnum(string(p.Archetype)))
	}
	for _, name := range requested {
		if !seen[name] {
			return core.NewValidationError(StageCharacters, "characters", "requested character missing", name)
		}
	}

	for i := range c.Tensions {
		t := &c.Tensions[i]
		t.Type = story.TensionType(normalizeEnum(string(t.Type)))
		for j := range t.Between {
			t.Between[j] = strings.TrimSpace(t.Between[j])
			if !seen[t.Between[j]] {
				return core.NewValidationError(StageCharacters, "tensions.between", "unknown character", t.Between[j])
			}
		}
		if t.Between[0] == t.Between[1] {
			return core.NewValidationError(StageCharacters, "tensions.between", "tension needs two characters", t.Between[0])
		}
		t.SurfacesIn = inRange(t.SurfacesIn, 1, chapters)
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%s: %w: %v", StageCharacters, core.ErrMalformedOutput, err)
	}
	return nil
}

func (c cast) byName() map[string]story.CharacterProfile {
	out := make(map[string]story.CharacterProfile, len(c.Characters))
	for _, p := range c.Characters {
		out[p.Name] = p
	}
	return out
}

func (c cast) names() map[string]string {
	out := make(map[string]string, len(c.Characters))
	for _, p := range c.Characters {
		out[strings.ToLower(p.Name)] = p.Name
	}
	return out
}

// summary compresses the cast to one line per character.
func (c cast) summary() string {
	lines := make([]string, 0, len(c.Characters))
	for _, p := range c.Characters {
		line := fmt.Sprintf("- %s (%s), %s, %s", p.Name, p.Pronouns, p.Archetype, clip(p.DominantTrait, 60))
		if p.Flaw != "" {
			line += "; flaw: " + clip(p.Flaw, 60)
		}
		lines = append(lines, line)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// outline is the stage 3 output.
type outline struct {
	Chapters  []story.ChapterSpec   `json:"chapters" validate:"min=1,dive"`
	Knowledge []story.KnowledgeItem `json:"knowledge_progression" validate:"dive"`
}

func (s *Synthesizer) chapters(ctx context.Context, in stageInput, roster cast, variation int) (outline, error) {
	prompt, err := s.prompts.Render(prompts.Variation(prompts.Chapters, variation), in)
	if err != nil {
		return outline{}, err
	}

	var out outline
	if err := gateway.DecodeJSON(ctx, s.client, s.request(StageChapters, prompt, 0.7), &out); err != nil {
		return outline{}, err
	}
	if err := out.check(in, roster); err != nil {
		return outline{}, err
	}
	return out, nil
}

func (o *outline) check(in stageInput, roster cast) error {
	if len(o.Chapters) != in.Chapters {
		return fmt.Errorf("%s: got %d chapter specs, want %d: %w",
			StageChapters, len(o.Chapters), in.Chapters, core.ErrChapterCount)
	}

	names := roster.names()
	for i := range o.Chapters {
		spec := &o.Chapters[i]
		spec.SceneType = story.SceneType(normalizeEnum(string(spec.SceneType)))
		if spec.WordCount.Min <= 0 {
			spec.WordCount.Min = in.MinWords
		}
		if spec.WordCount.Max <= 0 {
			spec.WordCount.Max = in.MaxWords
		}
		for j, name := range spec.Characters {
			canonical, ok := names[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return core.NewValidationError(StageChapters, "chapters.characters", "character not in cast", name)
			}
			spec.Characters[j] = canonical
		}
		if spec.Cliffhanger != nil {
			spec.Cliffhanger.Type = story.CliffhangerType(normalizeEnum(string(spec.Cliffhanger.Type)))
		}
	}

	for i := range o.Knowledge {
		item := &o.Knowledge[i]
		canonical, ok := names[strings.ToLower(strings.TrimSpace(item.Character))]
		if !ok {
			return core.NewValidationError(StageChapters, "knowledge_progression.character", "character not in cast", item.Character)
		}
		item.Character = canonical
		if item.LearnedInChapter > in.Chapters {
			return core.NewValidationError(StageChapters, "knowledge_progression.learned_in_chapter",
				fmt.Sprintf("chapter outside 0..%d", in.Chapters), item.LearnedInChapter)
		}
		item.Importance = story.Importance(normalizeEnum(string(item.Importance)))
		if item.Importance == "" {
			item.Importance = story.ImportanceMedium
		}
	}

	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%s: %w: %v", StageChapters, core.ErrMalformedOutput, err)
	}
	if err := story.CheckSpecs(o.Chapters); err != nil {
		return fmt.Errorf("%s: %w: %v", StageChapters, core.ErrMalformedOutput, err)
	}
	return nil
}

// normalizeEnum maps "Competing Goals" to "competing_goals".
func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

func inRange(nums []int, lo, hi int) []int {
	out := nums[:0]
	for _, n := range nums {
		if n >= lo && n <= hi {
			out = append(out, n)
		}
	}
	return out
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "..."
}

func clipAll(items []string, max int) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = clip(item, max)
	}
	return out
}
