package story

import "strings"

// ReadingLevel is the fixed set of audience bands a brief can target.
type ReadingLevel string

const (
	LevelEarly       ReadingLevel = "early"
	LevelDeveloping  ReadingLevel = "developing"
	LevelIndependent ReadingLevel = "independent"
	LevelAdvanced    ReadingLevel = "advanced"
)

// ReadingLevels lists every level in ascending order.
var ReadingLevels = []ReadingLevel{LevelEarly, LevelDeveloping, LevelIndependent, LevelAdvanced}

// Valid reports whether l is a known level.
func (l ReadingLevel) Valid() bool {
	for _, known := range ReadingLevels {
		if l == known {
			return true
		}
	}
	return false
}

// BriefStatus is the queue state of a brief.
type BriefStatus string

const (
	BriefQueued     BriefStatus = "queued"
	BriefGenerating BriefStatus = "generating"
	BriefCompleted  BriefStatus = "completed"
	BriefFailed     BriefStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s BriefStatus) Terminal() bool {
	return s == BriefCompleted || s == BriefFailed
}

// Status is the QA classification of a finished story.
type Status string

const (
	StatusApproved    Status = "approved"
	StatusEditorQueue Status = "editor_queue"
	StatusRejected    Status = "rejected"
)

// Archetype is the closed set of character roles.
type Archetype string

const (
	ArchetypeHero      Archetype = "hero"
	ArchetypeMentor    Archetype = "mentor"
	ArchetypeSidekick  Archetype = "sidekick"
	ArchetypeTrickster Archetype = "trickster"
	ArchetypeGuardian  Archetype = "guardian"
	ArchetypeRival     Archetype = "rival"
	ArchetypeInnocent  Archetype = "innocent"
	ArchetypeExplorer  Archetype = "explorer"
)

// TensionType labels the friction between two characters.
type TensionType string

const (
	TensionRivalry          TensionType = "rivalry"
	TensionMistrust         TensionType = "mistrust"
	TensionJealousy         TensionType = "jealousy"
	TensionMisunderstanding TensionType = "misunderstanding"
	TensionCompetingGoals   TensionType = "competing_goals"
	TensionProtectiveness   TensionType = "protectiveness"
)

// SceneType is the dominant mode of a chapter.
type SceneType string

const (
	SceneAction     SceneType = "action"
	SceneDialogue   SceneType = "dialogue"
	SceneDiscovery  SceneType = "discovery"
	SceneReflection SceneType = "reflection"
	SceneTransition SceneType = "transition"
)

// CliffhangerType is the kind of hook a chapter ends on.
type CliffhangerType string

const (
	CliffhangerQuestion   CliffhangerType = "question"
	CliffhangerDanger     CliffhangerType = "danger"
	CliffhangerRevelation CliffhangerType = "revelation"
	CliffhangerDecision   CliffhangerType = "decision"
)

// Importance ranks a knowledge item.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// PronounSet is locked on a character at creation.
type PronounSet string

const (
	PronounsHe   PronounSet = "he/him"
	PronounsShe  PronounSet = "she/her"
	PronounsThey PronounSet = "they/them"
)

var pronounWords = map[PronounSet][]string{
	PronounsHe:   {"he", "him", "his", "himself"},
	PronounsShe:  {"she", "her", "hers", "herself"},
	PronounsThey: {"they", "them", "their", "theirs", "themselves"},
}

// ParsePronounSet normalises model output such as "She/Her" or "she".
func ParsePronounSet(s string) (PronounSet, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "he" || strings.HasPrefix(s, "he/"):
		return PronounsHe, true
	case s == "she" || strings.HasPrefix(s, "she/"):
		return PronounsShe, true
	case s == "they" || strings.HasPrefix(s, "they/"):
		return PronounsThey, true
	}
	return "", false
}

// Opposite returns the pronoun forms that contradict p. They/them has no
// opposite because singular and plural uses are indistinguishable in text.
func (p PronounSet) Opposite() []string {
	switch p {
	case PronounsHe:
		return pronounWords[PronounsShe]
	case PronounsShe:
		return pronounWords[PronounsHe]
	default:
		return nil
	}
}
