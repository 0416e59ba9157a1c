package chapter

import (
	"github.com/vampirenirmal/storyforge/internal/story"
)

type rosterEntry struct {
	Name          string
	Pronouns      story.PronounSet
	Archetype     story.Archetype
	DominantTrait string
	Flaw          string
	Patterns      []string
	Words         []string
	Tell          string
	Appearance    []string
}

type systemData struct {
	Level      story.ReadingLevel
	AgeRange   string
	Setting    string
	Atmosphere string
	Sensory    []string
	Rules      []story.WorldRule
	Roster     []rosterEntry
	Names      []string
}

type userData struct {
	Context
	Violations []string
}

type continuityData struct {
	Roster          []rosterEntry
	Rules           []story.WorldRule
	PreviousSummary string
	Unknown         []story.KnowledgeItem
	Resolve         []Resolution
	Number          int
	Text            string
}

func newSystemData(d *story.DNA) systemData {
	return systemData{
		Level:      d.Meta.ReadingLevel,
		AgeRange:   d.Meta.AgeRange,
		Setting:    d.WorldBible.Setting,
		Atmosphere: d.WorldBible.Atmosphere,
		Sensory:    d.WorldBible.SensorySignature,
		Rules:      d.WorldBible.Rules,
		Roster:     roster(d),
		Names:      d.CharacterNames(),
	}
}

// roster lists the locked characters in name order. Speech is described,
// never quoted.
func roster(d *story.DNA) []rosterEntry {
	names := d.CharacterNames()
	out := make([]rosterEntry, 0, len(names))
	for _, name := range names {
		c := d.Characters[name]
		out = append(out, rosterEntry{
			Name:          c.Name,
			Pronouns:      c.Pronouns,
			Archetype:     c.Archetype,
			DominantTrait: c.DominantTrait,
			Flaw:          c.Flaw,
			Patterns:      c.Speech.Patterns,
			Words:         c.Speech.Words,
			Tell:          c.Speech.EmotionalTell,
			Appearance:    c.Appearance,
		})
	}
	return out
}
