package story

// LevelPolicy holds the values derived deterministically from a reading level.
type LevelPolicy struct {
	Level           ReadingLevel
	AgeRange        string
	Chapters        int
	TargetWords     int
	ChapterMinWords int
	ChapterMaxWords int
	// CastSize is used when a brief names no characters.
	CastSize int

	// Early-reader heuristics. Zero disables the check.
	MaxAvgWordLength     float64
	MaxAvgSentenceLength float64
}

var levelPolicies = map[ReadingLevel]LevelPolicy{
	LevelEarly: {
		Level:                LevelEarly,
		AgeRange:             "5-7",
		Chapters:             3,
		TargetWords:          1500,
		ChapterMinWords:      350,
		ChapterMaxWords:      650,
		CastSize:             3,
		MaxAvgWordLength:     5.0,
		MaxAvgSentenceLength: 12,
	},
	LevelDeveloping: {
		Level:           LevelDeveloping,
		AgeRange:        "7-9",
		Chapters:        5,
		TargetWords:     4000,
		ChapterMinWords: 600,
		ChapterMaxWords: 1000,
		CastSize:        4,
	},
	LevelIndependent: {
		Level:           LevelIndependent,
		AgeRange:        "9-12",
		Chapters:        8,
		TargetWords:     10000,
		ChapterMinWords: 1000,
		ChapterMaxWords: 1500,
		CastSize:        4,
	},
	LevelAdvanced: {
		Level:           LevelAdvanced,
		AgeRange:        "12-14",
		Chapters:        10,
		TargetWords:     18000,
		ChapterMinWords: 1500,
		ChapterMaxWords: 2200,
		CastSize:        5,
	},
}

// PolicyFor returns the policy for level, falling back to the early band for
// unknown values.
func PolicyFor(level ReadingLevel) LevelPolicy {
	if !level.Valid() {
		level = LevelEarly
	}
	return levelPolicies[level]
}

// Early reports whether the early-reader heuristics apply.
func (p LevelPolicy) Early() bool {
	return p.MaxAvgWordLength > 0 || p.MaxAvgSentenceLength > 0
}
