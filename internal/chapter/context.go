package chapter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vampirenirmal/storyforge/internal/story"
)

const (
	endingWords      = 60
	summaryChapters  = 3
	maxSummaryLength = 240
)

// Resolution is a cliffhanger a chapter must pay off.
type Resolution struct {
	From        int
	Type        story.CliffhangerType
	Description string
	Plan        string
}

// Context is everything the prompt for one chapter is built from. It is
// derived from the DNA and the chapters accepted so far, never stored.
type Context struct {
	Number   int
	Total    int
	Spec     story.ChapterSpec
	MinWords int
	MaxWords int

	Stakes   string
	Reversal string

	PreviousSummary string
	PreviousEnding  string

	Known     []story.KnowledgeItem
	Learning  []story.KnowledgeItem
	Unknown   []story.KnowledgeItem
	Forbidden []string

	Tensions    []story.Tension
	Resolve     []Resolution
	Cliffhanger *story.Cliffhanger
}

// BuildContext assembles the context for chapter n from the DNA's current
// ledger and the chapters accepted before it.
func BuildContext(d *story.DNA, n int, accepted []story.Chapter) (Context, error) {
	spec, ok := d.Spec(n)
	if !ok {
		return Context{}, fmt.Errorf("no spec for chapter %d of %d", n, len(d.ChapterSpecs))
	}

	cc := Context{
		Number:      n,
		Total:       len(d.ChapterSpecs),
		Spec:        spec,
		MinWords:    spec.WordCount.Min,
		MaxWords:    spec.WordCount.Max,
		Reversal:    d.PlotStructure.ReversalPlan[n],
		Cliffhanger: spec.Cliffhanger,
	}
	if stakes := d.PlotStructure.EmotionalStakes; len(stakes) > 0 {
		cc.Stakes = stakes[(n-1)*len(stakes)/cc.Total]
	}

	if len(accepted) > 0 {
		cc.PreviousEnding = accepted[len(accepted)-1].Ending
		from := len(accepted) - summaryChapters
		if from < 0 {
			from = 0
		}
		parts := make([]string, 0, summaryChapters)
		for _, ch := range accepted[from:] {
			parts = append(parts, fmt.Sprintf("Chapter %d: %s", ch.Number, ch.Summary))
		}
		cc.PreviousSummary = strings.Join(parts, " ")
	}

	cc.Known, cc.Learning, cc.Unknown = d.KnowledgeAsOf(n)
	for _, item := range cc.Unknown {
		if item.Secret || item.Importance == story.ImportanceHigh {
			cc.Forbidden = append(cc.Forbidden,
				fmt.Sprintf("%s must not react to or hint at: %s", item.Character, item.Fact))
		}
	}

	for _, t := range d.CharacterTensions {
		for _, c := range t.SurfacesIn {
			if c == n {
				cc.Tensions = append(cc.Tensions, t)
				break
			}
		}
	}

	raised := d.CliffhangersResolvedIn(n)
	froms := make([]int, 0, len(raised))
	for from := range raised {
		froms = append(froms, from)
	}
	sort.Ints(froms)
	for _, from := range froms {
		c := raised[from]
		cc.Resolve = append(cc.Resolve, Resolution{
			From:        from,
			Type:        c.Type,
			Description: c.Description,
			Plan:        c.ResolutionPlan.Description,
		})
	}
	return cc, nil
}

// Ending returns the closing words of a chapter, starting at a sentence
// boundary where one is close enough.
func Ending(text string) string {
	words := strings.Fields(text)
	if len(words) <= endingWords {
		return strings.Join(words, " ")
	}
	tail := words[len(words)-endingWords:]
	for i, w := range tail[:len(tail)/2] {
		if strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") || strings.HasSuffix(w, "?") {
			return strings.Join(tail[i+1:], " ")
		}
	}
	return strings.Join(tail, " ")
}

// Summarize condenses an accepted chapter for the next chapter's prompt
// without another model call: the planned objective plus how it ended.
func Summarize(spec story.ChapterSpec, text string) string {
	summary := strings.TrimSuffix(strings.TrimSpace(spec.Objective), ".") + "."
	if last := lastSentence(text); last != "" {
		summary += " It ends: " + last
	}
	r := []rune(summary)
	if len(r) > maxSummaryLength {
		summary = strings.TrimSpace(string(r[:maxSummaryLength])) + "..."
	}
	return summary
}

func lastSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	body := strings.TrimRight(text, ".!?\"' ")
	cut := strings.LastIndexAny(body, ".!?")
	return strings.TrimSpace(text[cut+1:])
}
