package qa

import (
	"math"

	"github.com/vampirenirmal/storyforge/internal/story"
)

// Sub-score ceilings of the quality rubric. They sum to 100.
const (
	MaxNarrativeCoherence   = 25
	MaxCharacterConsistency = 20
	MaxAgeAppropriateness   = 20
	MaxEngagement           = 20
	MaxTechnicalQuality     = 15
)

// QualityScore is the 0-100 quality rubric. Sub-scores are clamped to
// their ceilings before summing; Total drops the fraction so that a sum
// below a threshold never reaches it.
type QualityScore struct {
	NarrativeCoherence   float64 `json:"narrative_coherence"`
	CharacterConsistency float64 `json:"character_consistency"`
	AgeAppropriateness   float64 `json:"age_appropriateness"`
	Engagement           float64 `json:"engagement"`
	TechnicalQuality     float64 `json:"technical_quality"`
	Notes                string  `json:"notes,omitempty"`
	Total                int     `json:"total"`
}

func (q *QualityScore) normalize() {
	q.NarrativeCoherence = clamp(q.NarrativeCoherence, 0, MaxNarrativeCoherence)
	q.CharacterConsistency = clamp(q.CharacterConsistency, 0, MaxCharacterConsistency)
	q.AgeAppropriateness = clamp(q.AgeAppropriateness, 0, MaxAgeAppropriateness)
	q.Engagement = clamp(q.Engagement, 0, MaxEngagement)
	q.TechnicalQuality = clamp(q.TechnicalQuality, 0, MaxTechnicalQuality)
	q.Total = int(floorTo(q.NarrativeCoherence+q.CharacterConsistency+q.AgeAppropriateness+
		q.Engagement+q.TechnicalQuality, 1))
}

type SafetyIssue struct {
	Criterion   string `json:"criterion"`
	Description string `json:"description"`
}

// SafetyResult is binary: any reported issue fails the story.
type SafetyResult struct {
	Passed bool          `json:"passed"`
	Issues []SafetyIssue `json:"issues"`
}

func (s *SafetyResult) normalize() {
	s.Passed = s.Passed && len(s.Issues) == 0
}

// ValuesResult scores six dimensions from 1 to 5. Average is truncated,
// not rounded, to two decimals.
type ValuesResult struct {
	RoleModels         float64 `json:"role_models"`
	ConsequenceLogic   float64 `json:"consequence_logic"`
	ConflictResolution float64 `json:"conflict_resolution"`
	AuthorityRespect   float64 `json:"authority_respect"`
	VirtueIntegration  float64 `json:"virtue_integration"`
	HopefulEnding      float64 `json:"hopeful_ending"`
	Average            float64 `json:"average"`
}

func (v *ValuesResult) normalize() {
	dims := []*float64{
		&v.RoleModels, &v.ConsequenceLogic, &v.ConflictResolution,
		&v.AuthorityRespect, &v.VirtueIntegration, &v.HopefulEnding,
	}
	sum := 0.0
	for _, d := range dims {
		*d = clamp(*d, 1, 5)
		sum += *d
	}
	v.Average = floorTo(sum/float64(len(dims)), 100)
}

// Criteria returns the safety criteria checked for a reading level.
func Criteria(level story.ReadingLevel) []string {
	criteria := []string{
		"graphic or frightening violence",
		"romance or romantic relationships",
		"alcohol, drugs or other substances",
		"self-harm",
		"discrimination or stereotyping",
		"horror or intense fear",
		"profanity or crude language",
	}
	if level == story.LevelEarly || level == story.LevelDeveloping {
		criteria = append(criteria, "death of a main character")
	}
	return criteria
}

// floorTo truncates v to 1/scale steps. The epsilon absorbs float noise in
// sums such as 0.1+0.2 that are exact in decimal.
func floorTo(v, scale float64) float64 {
	return math.Floor(v*scale+1e-9) / scale
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
