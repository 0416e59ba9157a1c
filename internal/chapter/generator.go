// Package chapter writes a story's chapters strictly in order, checking each
// draft for continuity and regenerating it at most once.
package chapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vampirenirmal/storyforge/internal/core"
	"github.com/vampirenirmal/storyforge/internal/gateway"
	"github.com/vampirenirmal/storyforge/internal/prompts"
	"github.com/vampirenirmal/storyforge/internal/story"
	"github.com/vampirenirmal/storyforge/internal/validate"
)

// Operation names used for gateway calls.
const (
	OpDraft      = "chapter_draft"
	OpContinuity = "chapter_continuity"
)

// Continuity is the checker model's verdict on a draft.
type Continuity struct {
	Pass       bool     `json:"pass"`
	Violations []string `json:"violations"`
}

// Result is the accepted chapters of one story plus how they were reached.
type Result struct {
	Chapters []story.Chapter
	// ContinuityFailures counts drafts the checker rejected.
	ContinuityFailures int
	// CheckerErrors counts continuity calls that failed and were skipped.
	CheckerErrors int
	// Regenerations counts corrective redrafts requested; RegenerationFailures
	// counts those that errored and left the first draft in place.
	Regenerations        int
	RegenerationFailures int
	Validation           map[int]validate.Result
	DurationMS           int64
}

type Generator struct {
	client       gateway.Completer
	prompts      *prompts.Library
	model        string
	checkerModel string
	logger       *slog.Logger
}

type Option func(*Generator)

func WithModel(model string) Option {
	return func(g *Generator) {
		g.model = model
	}
}

// WithCheckerModel sets the cheaper model used for continuity checks.
func WithCheckerModel(model string) Option {
	return func(g *Generator) {
		g.checkerModel = model
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger.With("component", "chapter_generator")
	}
}

func New(client gateway.Completer, lib *prompts.Library, opts ...Option) *Generator {
	g := &Generator{
		client:  client,
		prompts: lib,
		logger:  slog.Default().With("component", "chapter_generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateAll writes chapters 1..N in order. It appends each accepted
// chapter's knowledge to d's ledger and never touches the character roster.
func (g *Generator) GenerateAll(ctx context.Context, d *story.DNA) (*Result, error) {
	start := time.Now()
	res := &Result{Validation: make(map[int]validate.Result)}
	total := len(d.ChapterSpecs)
	resolvedClean := true

	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, core.NewStageError(stageName(n), 1, err)
		}

		ch, clean, err := g.generateOne(ctx, d, n, res)
		if err != nil {
			return nil, err
		}
		if len(d.CliffhangersResolvedIn(n)) > 0 && !clean {
			resolvedClean = false
		}

		res.Chapters = append(res.Chapters, ch)
		added := d.RecordChapter(n)

		g.logger.Info("chapter accepted",
			"story_id", d.StoryID,
			"chapter", n,
			"words", ch.WordCount,
			"regenerated", ch.Regenerated,
			"continuity_passed", ch.ContinuityPassed,
			"knowledge_added", len(added))
	}

	if err := CheckComplete(res.Chapters, total); err != nil {
		return nil, err
	}

	d.EditorialChecklist.ContinuityChecked = res.CheckerErrors == 0
	d.EditorialChecklist.CliffhangersResolved = resolvedClean
	res.DurationMS = time.Since(start).Milliseconds()
	return res, nil
}

// generateOne drafts, checks and at most once regenerates chapter n.
func (g *Generator) generateOne(ctx context.Context, d *story.DNA, n int, res *Result) (story.Chapter, bool, error) {
	cc, err := BuildContext(d, n, res.Chapters)
	if err != nil {
		return story.Chapter{}, false, core.NewStageError(stageName(n), 1, err)
	}

	text, err := g.Draft(ctx, d, cc, nil)
	if err != nil {
		return story.Chapter{}, false, core.NewStageError(stageName(n), 1, err)
	}
	cont, problems, err := g.review(ctx, d, cc, text, res)
	if err != nil {
		return story.Chapter{}, false, core.NewStageError(stageName(n), 1, err)
	}

	regenerated := false
	if len(problems) > 0 {
		if !cont.Pass {
			res.ContinuityFailures++
		}
		res.Regenerations++
		regenerated = true

		g.logger.Warn("chapter failed checks, regenerating",
			"story_id", d.StoryID,
			"chapter", n,
			"problems", len(problems))

		redraft, err := g.Draft(ctx, d, cc, problems)
		switch {
		case err == nil:
			text = redraft
			// The second draft is accepted whatever the checks say.
			cont, problems, err = g.review(ctx, d, cc, text, res)
			if err != nil {
				return story.Chapter{}, false, core.NewStageError(stageName(n), 2, err)
			}
		case core.IsTerminal(err) || ctx.Err() != nil:
			return story.Chapter{}, false, core.NewStageError(stageName(n), 2, err)
		default:
			// The first draft stands with its recorded problems.
			res.RegenerationFailures++
			regenerated = false
			g.logger.Warn("chapter regeneration failed, keeping first draft",
				"story_id", d.StoryID,
				"chapter", n,
				"error", err)
		}
	}

	ch := story.Chapter{
		StoryID:          d.StoryID,
		Number:           n,
		Title:            cc.Spec.Title,
		Text:             text,
		WordCount:        story.CountWords(text),
		Spec:             cc.Spec,
		Summary:          Summarize(cc.Spec, text),
		Ending:           Ending(text),
		Regenerated:      regenerated,
		ContinuityPassed: cont.Pass,
		Violations:       problems,
	}
	return ch, cont.Pass && len(problems) == 0, nil
}

// review runs the continuity check and the validator over a draft and
// returns what should be corrected. A failed checker call is logged and
// treated as a pass.
func (g *Generator) review(ctx context.Context, d *story.DNA, cc Context, text string, res *Result) (Continuity, []string, error) {
	cont, err := g.Check(ctx, d, cc, text)
	if err != nil {
		if core.IsTerminal(err) || ctx.Err() != nil {
			return Continuity{}, nil, err
		}
		res.CheckerErrors++
		g.logger.Warn("continuity check failed, accepting draft unchecked",
			"story_id", d.StoryID,
			"chapter", cc.Number,
			"error", err)
		cont = Continuity{Pass: true}
	}

	v := validate.Chapter(text, cc.Spec, d.Pronouns(), d.Meta.ReadingLevel)
	res.Validation[cc.Number] = v
	for _, w := range v.Warnings() {
		g.logger.Debug("validator warning",
			"story_id", d.StoryID,
			"chapter", cc.Number,
			"kind", w.Kind,
			"message", w.Message)
	}

	var problems []string
	if !cont.Pass {
		problems = append(problems, cont.Violations...)
		if len(cont.Violations) == 0 {
			problems = append(problems, "the continuity editor rejected the draft")
		}
	}
	if !v.Passed() || len(problems) > 0 {
		problems = append(problems, v.Messages()...)
	}
	return cont, problems, nil
}

// Draft generates one chapter text. It is a pure function of the DNA,
// the context and an optional list of problems to correct.
func (g *Generator) Draft(ctx context.Context, d *story.DNA, cc Context, violations []string) (string, error) {
	system, err := g.prompts.Render(prompts.ChapterSystem, newSystemData(d))
	if err != nil {
		return "", err
	}
	user, err := g.prompts.Render(prompts.ChapterUser, userData{Context: cc, Violations: violations})
	if err != nil {
		return "", err
	}

	req := gateway.NewRequest(OpDraft, system, user)
	req.Model = g.model
	req.Temperature = 0.8
	completion, err := g.client.CompleteStructured(ctx, req)
	if err != nil {
		return "", err
	}
	if completion.Truncated() {
		return "", fmt.Errorf("chapter %d: %w", cc.Number, core.ErrTruncated)
	}
	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return "", fmt.Errorf("chapter %d: empty draft: %w", cc.Number, core.ErrMalformedOutput)
	}
	return text, nil
}

// Check asks the checker model to review a draft against the roster,
// world rules and knowledge ledger.
func (g *Generator) Check(ctx context.Context, d *story.DNA, cc Context, text string) (Continuity, error) {
	prompt, err := g.prompts.Render(prompts.Continuity, continuityData{
		Roster:          roster(d),
		Rules:           d.WorldBible.Rules,
		PreviousSummary: cc.PreviousSummary,
		Unknown:         cc.Unknown,
		Resolve:         cc.Resolve,
		Number:          cc.Number,
		Text:            text,
	})
	if err != nil {
		return Continuity{}, err
	}

	req := gateway.NewRequest(OpContinuity, "", prompt)
	req.Model = g.checkerModel
	req.Temperature = 0.2

	var out Continuity
	if err := gateway.DecodeJSON(ctx, g.client, req, &out); err != nil {
		return Continuity{}, err
	}
	return out, nil
}

// CheckComplete verifies chapters are numbered exactly 1..total.
func CheckComplete(chapters []story.Chapter, total int) error {
	seen := make(map[int]bool, len(chapters))
	for _, ch := range chapters {
		if ch.Number < 1 || ch.Number > total || seen[ch.Number] {
			return fmt.Errorf("unexpected chapter number %d of %d: %w", ch.Number, total, core.ErrMissingChapter)
		}
		seen[ch.Number] = true
	}
	var missing []string
	for n := 1; n <= total; n++ {
		if !seen[n] {
			missing = append(missing, fmt.Sprint(n))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("chapters %s of %d: %w", strings.Join(missing, ", "), total, core.ErrMissingChapter)
	}
	return nil
}

func stageName(n int) string {
	return fmt.Sprintf("chapter_%d", n)
}
