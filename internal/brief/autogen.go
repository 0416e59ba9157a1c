package brief

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/vampirenirmal/storyforge/internal/story"
)

// Variety matrix sampled by AutoGenerate.
var (
	Genres = []string{
		"adventure", "mystery", "fantasy", "science fiction", "animal tale",
		"friendship story", "sports", "historical", "fairy tale", "humor",
	}
	Virtues = []string{
		"courage", "honesty", "kindness", "perseverance", "responsibility",
		"gratitude", "patience", "forgiveness", "generosity", "humility",
	}
	Themes = []string{
		"friendship", "family", "nature", "teamwork", "curiosity",
		"helping others", "overcoming fear", "trying new things",
		"sharing", "being yourself", "community", "problem solving",
	}
)

const themesPerBrief = 2

// Generator samples briefs from the variety matrix.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded from seed. Equal seeds yield equal
// briefs.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Brief samples one brief. Level, genre, virtue and themes are drawn
// independently; chapters and words follow from the level.
func (g *Generator) Brief() story.Brief {
	level := story.ReadingLevels[g.rng.IntN(len(story.ReadingLevels))]
	policy := story.PolicyFor(level)
	return story.Brief{
		ReadingLevel:   level,
		Genre:          Genres[g.rng.IntN(len(Genres))],
		Virtue:         Virtues[g.rng.IntN(len(Virtues))],
		Themes:         g.sample(Themes, themesPerBrief),
		TargetChapters: policy.Chapters,
		TargetWords:    policy.TargetWords,
	}
}

// sample draws n distinct entries from pool.
func (g *Generator) sample(pool []string, n int) []string {
	idx := g.rng.Perm(len(pool))
	if n > len(idx) {
		n = len(idx)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pool[idx[i]]
	}
	return out
}

// AutoGenerate synthesizes and enqueues n briefs.
func (m *Manager) AutoGenerate(ctx context.Context, g *Generator, n int) ([]story.Brief, error) {
	out := make([]story.Brief, 0, n)
	for i := 0; i < n; i++ {
		b, err := m.Enqueue(ctx, g.Brief())
		if err != nil {
			return out, fmt.Errorf("auto-generating brief %d: %w", i+1, err)
		}
		out = append(out, b)
	}
	m.logger.Info("auto-generated briefs", "count", len(out))
	return out, nil
}
