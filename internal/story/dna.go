package story

import (
	"fmt"
	"sort"
	"time"
)

// DNA is the single source of truth for one story. It is produced once by
// the synthesizer and never mutated afterwards, except for StoryState.
type DNA struct {
	StoryID              string                      `json:"story_id" validate:"required"`
	Meta                 Meta                        `json:"meta"`
	WorldBible           WorldBible                  `json:"world_bible"`
	PlotStructure        PlotStructure               `json:"plot_structure"`
	Characters           map[string]CharacterProfile `json:"characters" validate:"min=1,dive"`
	CharacterTensions    []Tension                   `json:"character_tensions" validate:"dive"`
	ChapterSpecs         []ChapterSpec               `json:"chapter_specs" validate:"min=1,dive"`
	KnowledgeProgression []KnowledgeItem             `json:"knowledge_progression" validate:"dive"`
	StoryState           StoryState                  `json:"story_state"`
	EditorialChecklist   EditorialChecklist          `json:"editorial_checklist"`
	CreatedAt            time.Time                   `json:"created_at"`
}

type Meta struct {
	Title        string       `json:"title" validate:"required"`
	Genre        string       `json:"genre" validate:"required"`
	ReadingLevel ReadingLevel `json:"reading_level" validate:"required,oneof=early developing independent advanced"`
	AgeRange     string       `json:"age_range"`
	Virtue       string       `json:"virtue"`
	Themes       []string     `json:"themes"`
	ChapterCount int          `json:"chapter_count" validate:"min=1"`
}

type WorldBible struct {
	Setting          string      `json:"setting" validate:"required"`
	Atmosphere       string      `json:"atmosphere"`
	Rules            []WorldRule `json:"rules" validate:"min=1,dive"`
	SensorySignature []string    `json:"sensory_signature"`
}

// WorldRule pairs a rule of the world with what happens when it is broken.
type WorldRule struct {
	Rule        string `json:"rule" validate:"required"`
	Consequence string `json:"consequence" validate:"required"`
}

type PlotStructure struct {
	CentralConflict string `json:"central_conflict" validate:"required"`
	CentralTheme    string `json:"central_theme"`
	// EmotionalStakes is the four-quartile ladder, lowest stakes first.
	EmotionalStakes []string `json:"emotional_stakes" validate:"len=4"`
	// ReversalPlan keys the four reversal beats by chapter number.
	ReversalPlan map[int]string `json:"reversal_plan" validate:"max=4"`
}

// CharacterProfile is locked at creation. Pronouns never change.
type CharacterProfile struct {
	Name          string            `json:"name" validate:"required"`
	Age           int               `json:"age" validate:"min=0,max=1000"`
	Gender        string            `json:"gender"`
	Pronouns      PronounSet        `json:"pronouns" validate:"required,oneof=he/him she/her they/them"`
	Archetype     Archetype         `json:"archetype" validate:"required,oneof=hero mentor sidekick trickster guardian rival innocent explorer"`
	DominantTrait string            `json:"dominant_trait" validate:"required"`
	Flaw          string            `json:"flaw"`
	Speech        SpeechFingerprint `json:"speech"`
	Appearance    []string          `json:"appearance"`
}

// SpeechFingerprint describes how a character talks, never what they say.
type SpeechFingerprint struct {
	Patterns      []string `json:"patterns" validate:"min=1"`
	Words         []string `json:"words"`
	EmotionalTell string   `json:"emotional_tell"`
}

type Tension struct {
	Between     [2]string   `json:"between"`
	Type        TensionType `json:"type" validate:"required,oneof=rivalry mistrust jealousy misunderstanding competing_goals protectiveness"`
	Description string      `json:"description"`
	SurfacesIn  []int       `json:"surfaces_in"`
}

type WordBand struct {
	Min int `json:"min" validate:"min=1"`
	Max int `json:"max" validate:"gtefield=Min"`
}

type ChapterSpec struct {
	Number       int          `json:"number" validate:"min=1"`
	Title        string       `json:"title" validate:"required"`
	Objective    string       `json:"objective" validate:"required"`
	Obstacle     string       `json:"obstacle"`
	EmotionalArc string       `json:"emotional_arc"`
	SceneType    SceneType    `json:"scene_type" validate:"required,oneof=action dialogue discovery reflection transition"`
	Characters   []string     `json:"characters"`
	WordCount    WordBand     `json:"word_count"`
	Cliffhanger  *Cliffhanger `json:"cliffhanger,omitempty"`
}

type Cliffhanger struct {
	Type           CliffhangerType `json:"type" validate:"required,oneof=question danger revelation decision"`
	Description    string          `json:"description" validate:"required"`
	ResolutionPlan ResolutionPlan  `json:"resolution_plan"`
}

type ResolutionPlan struct {
	ResolveInChapter int    `json:"resolve_in_chapter" validate:"min=1"`
	Description      string `json:"description" validate:"required"`
}

// KnowledgeItem is one fact a character learns.
type KnowledgeItem struct {
	Character        string     `json:"character" validate:"required"`
	Fact             string     `json:"fact" validate:"required"`
	LearnedInChapter int        `json:"learned_in_chapter" validate:"min=0"`
	Secret           bool       `json:"secret"`
	Importance       Importance `json:"importance" validate:"omitempty,oneof=low medium high"`
}

// StoryState is the append-only ledger updated after each accepted chapter.
type StoryState struct {
	CharacterKnowledge map[string][]KnowledgeItem `json:"character_knowledge"`
	LastAcceptedChapter int                       `json:"last_accepted_chapter"`
}

// EditorialChecklist records which guarantees were enforced. Audit only.
type EditorialChecklist struct {
	PronounsLocked         bool `json:"pronouns_locked"`
	RosterEnforced         bool `json:"roster_enforced"`
	SpeechFingerprintsOnly bool `json:"speech_fingerprints_only"`
	KnowledgeTracked       bool `json:"knowledge_tracked"`
	ContinuityChecked      bool `json:"continuity_checked"`
	CliffhangersResolved   bool `json:"cliffhangers_resolved"`
}

// Validate checks struct tags and the cross-field invariants of a DNA.
func (d *DNA) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid dna: %w", err)
	}
	if len(d.ChapterSpecs) != d.Meta.ChapterCount {
		return fmt.Errorf("invalid dna: %d chapter specs for %d chapters", len(d.ChapterSpecs), d.Meta.ChapterCount)
	}
	if err := CheckSpecs(d.ChapterSpecs); err != nil {
		return fmt.Errorf("invalid dna: %w", err)
	}
	for name, c := range d.Characters {
		if name != c.Name {
			return fmt.Errorf("invalid dna: character key %q does not match name %q", name, c.Name)
		}
	}
	for _, item := range d.KnowledgeProgression {
		if _, ok := d.Characters[item.Character]; !ok {
			return fmt.Errorf("invalid dna: knowledge for unknown character %q", item.Character)
		}
	}
	return nil
}

// CheckSpecs verifies chapter numbers form 1..N and that every cliffhanger
// names a later chapter within range.
func CheckSpecs(specs []ChapterSpec) error {
	for i, spec := range specs {
		if spec.Number != i+1 {
			return fmt.Errorf("chapter spec %d has number %d", i+1, spec.Number)
		}
		if spec.Cliffhanger == nil {
			continue
		}
		target := spec.Cliffhanger.ResolutionPlan.ResolveInChapter
		if target <= spec.Number || target > len(specs) {
			return fmt.Errorf("chapter %d cliffhanger resolves in chapter %d", spec.Number, target)
		}
	}
	return nil
}

// CharacterNames returns the roster sorted by name.
func (d *DNA) CharacterNames() []string {
	names := make([]string, 0, len(d.Characters))
	for name := range d.Characters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pronouns returns a copy of the locked pronoun map.
func (d *DNA) Pronouns() map[string]PronounSet {
	out := make(map[string]PronounSet, len(d.Characters))
	for name, c := range d.Characters {
		out[name] = c.Pronouns
	}
	return out
}

// Spec returns the chapter spec numbered n.
func (d *DNA) Spec(n int) (ChapterSpec, bool) {
	if n < 1 || n > len(d.ChapterSpecs) {
		return ChapterSpec{}, false
	}
	return d.ChapterSpecs[n-1], true
}

// CliffhangersResolvedIn returns the cliffhangers chapter n must resolve,
// keyed by the chapter that raised them.
func (d *DNA) CliffhangersResolvedIn(n int) map[int]Cliffhanger {
	out := make(map[int]Cliffhanger)
	for _, spec := range d.ChapterSpecs {
		if spec.Cliffhanger != nil && spec.Cliffhanger.ResolutionPlan.ResolveInChapter == n {
			out[spec.Number] = *spec.Cliffhanger
		}
	}
	return out
}

// KnowledgeAsOf splits the knowledge plan for chapter n. Known holds what each
// character has learned before chapter n, learning holds facts scheduled for
// chapter n, and unknown holds facts learned later.
func (d *DNA) KnowledgeAsOf(n int) (known, learning, unknown []KnowledgeItem) {
	for _, items := range d.StoryState.CharacterKnowledge {
		for _, item := range items {
			if item.LearnedInChapter < n {
				known = append(known, item)
			}
		}
	}
	for _, item := range d.KnowledgeProgression {
		switch {
		case item.LearnedInChapter == n:
			learning = append(learning, item)
		case item.LearnedInChapter > n:
			unknown = append(unknown, item)
		}
	}
	sortKnowledge(known)
	sortKnowledge(learning)
	sortKnowledge(unknown)
	return known, learning, unknown
}

// RecordChapter appends the knowledge scheduled for chapter n to the ledger.
func (d *DNA) RecordChapter(n int) []KnowledgeItem {
	if d.StoryState.CharacterKnowledge == nil {
		d.StoryState.CharacterKnowledge = make(map[string][]KnowledgeItem)
	}
	var added []KnowledgeItem
	for _, item := range d.KnowledgeProgression {
		if item.LearnedInChapter != n {
			continue
		}
		d.StoryState.CharacterKnowledge[item.Character] = append(d.StoryState.CharacterKnowledge[item.Character], item)
		added = append(added, item)
	}
	if n > d.StoryState.LastAcceptedChapter {
		d.StoryState.LastAcceptedChapter = n
	}
	return added
}

func sortKnowledge(items []KnowledgeItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Character != items[j].Character {
			return items[i].Character < items[j].Character
		}
		return items[i].LearnedInChapter < items[j].LearnedInChapter
	})
}
