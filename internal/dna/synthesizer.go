// Package dna turns a brief into a Story DNA through three dependent
// generation stages.
package dna

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vampirenirmal/storyforge/internal/core"
	"github.com/vampirenirmal/storyforge/internal/gateway"
	"github.com/vampirenirmal/storyforge/internal/prompts"
	"github.com/vampirenirmal/storyforge/internal/story"
)

const (
	StageFoundation = "foundation"
	StageCharacters = "characters"
	StageChapters   = "chapters"
	StageTitle      = "title"
)

const architectSystem = "You are a children's book story architect. You design stories that are consistent, warm and age-appropriate. Respond with JSON only."

var validate = validator.New()

// Synthesizer produces one immutable DNA per brief.
type Synthesizer struct {
	client     gateway.Completer
	prompts    *prompts.Library
	model      string
	attempts   int
	variations int
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Synthesizer)

func WithModel(model string) Option {
	return func(s *Synthesizer) {
		s.model = model
	}
}

// WithBudget sets the attempts per stage and phrasings per attempt.
func WithBudget(attempts, variations int) Option {
	return func(s *Synthesizer) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if variations > 0 && variations <= prompts.Variations {
			s.variations = variations
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) {
		s.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) {
		s.logger = logger.With("component", "dna_synthesizer")
	}
}

func New(client gateway.Completer, lib *prompts.Library, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		client:     client,
		prompts:    lib,
		attempts:   3,
		variations: prompts.Variations,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.Default().With("component", "dna_synthesizer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is a synthesized DNA plus how it was obtained.
type Result struct {
	DNA *story.DNA
	// Timings holds wall-clock milliseconds per stage.
	Timings map[string]int64
	// Tries holds the number of calls each stage needed.
	Tries map[string]int
	// TitleFallback is set when the deterministic title was used.
	TitleFallback bool
}

// Synthesize runs foundation, characters and chapters in order, then
// titles and merges them into one validated DNA.
func (s *Synthesizer) Synthesize(ctx context.Context, b story.Brief) (*Result, error) {
	in := newStageInput(b)
	res := &Result{Timings: make(map[string]int64), Tries: make(map[string]int)}

	s.logger.Info("synthesizing dna",
		"brief_id", b.ID,
		"reading_level", in.Level,
		"chapters", in.Chapters)

	var found foundation
	if err := s.stage(ctx, res, StageFoundation, func(v int) error {
		out, err := s.foundation(ctx, in, v)
		if err == nil {
			found = out
		}
		return err
	}); err != nil {
		return nil, err
	}
	in.Foundation = found.summary()

	var roster cast
	if err := s.stage(ctx, res, StageCharacters, func(v int) error {
		out, err := s.characters(ctx, in, v)
		if err == nil {
			roster = out
		}
		return err
	}); err != nil {
		return nil, err
	}
	in.Cast = roster.summary()

	var plan outline
	if err := s.stage(ctx, res, StageChapters, func(v int) error {
		out, err := s.chapters(ctx, in, roster, v)
		if err == nil {
			plan = out
		}
		return err
	}); err != nil {
		return nil, err
	}

	start := time.Now()
	title, fallback := s.title(ctx, in)
	res.Timings[StageTitle] = time.Since(start).Milliseconds()
	res.TitleFallback = fallback

	d := &story.DNA{
		StoryID: uuid.New().String(),
		Meta: story.Meta{
			Title:        title,
			Genre:        in.Genre,
			ReadingLevel: in.Level,
			AgeRange:     in.AgeRange,
			Virtue:       in.Virtue,
			Themes:       in.Themes,
			ChapterCount: in.Chapters,
		},
		WorldBible:           found.WorldBible,
		PlotStructure:        found.PlotStructure,
		Characters:           roster.byName(),
		CharacterTensions:    roster.Tensions,
		ChapterSpecs:         plan.Chapters,
		KnowledgeProgression: plan.Knowledge,
		EditorialChecklist: story.EditorialChecklist{
			PronounsLocked:         true,
			RosterEnforced:         true,
			SpeechFingerprintsOnly: true,
			KnowledgeTracked:       true,
		},
		CreatedAt: s.now(),
	}
	// Facts known before chapter 1 seed the ledger.
	d.RecordChapter(0)

	if err := d.Validate(); err != nil {
		return nil, core.NewStageError("merge", 1, fmt.Errorf("%w: %v", core.ErrMalformedOutput, err))
	}
	res.DNA = d

	s.logger.Info("dna synthesized",
		"brief_id", b.ID,
		"story_id", d.StoryID,
		"title", d.Meta.Title,
		"characters", len(d.Characters),
		"chapters", len(d.ChapterSpecs),
		"title_fallback", fallback)

	return res, nil
}

// stage runs try up to attempts x variations times, cycling phrasings within
// each attempt. Terminal errors and cancellation stop immediately.
func (s *Synthesizer) stage(ctx context.Context, res *Result, stage string, try func(variation int) error) error {
	start := time.Now()
	defer func() {
		res.Timings[stage] = time.Since(start).Milliseconds()
	}()

	var lastErr error
	tries := 0
	for attempt := 0; attempt < s.attempts; attempt++ {
		for v := 0; v < s.variations; v++ {
			tries++
			res.Tries[stage] = tries

			err := try(v)
			if err == nil {
				s.logger.Debug("stage succeeded",
					"stage", stage,
					"attempt", attempt,
					"variation", prompts.Variation(stage, v))
				return nil
			}
			lastErr = err

			if core.IsTerminal(err) || ctx.Err() != nil {
				return core.NewStageError(stage, tries, err)
			}

			s.logger.Warn("stage attempt failed",
				"stage", stage,
				"attempt", attempt,
				"variation", prompts.Variation(stage, v),
				"error", err)
		}
	}

	s.logger.Error("stage exhausted attempts",
		"stage", stage,
		"tries", tries,
		"last_error", lastErr)
	return core.NewStageError(stage, tries, lastErr)
}

func (s *Synthesizer) request(stage, user string, temperature float64) gateway.Request {
	req := gateway.NewRequest("dna_"+stage, architectSystem, user)
	req.Model = s.model
	req.Temperature = temperature
	return req
}

// title asks for a creative title and falls back to "<Virtue> Adventure".
func (s *Synthesizer) title(ctx context.Context, in stageInput) (string, bool) {
	prompt, err := s.prompts.Render(prompts.Title, in)
	if err == nil {
		req := gateway.NewRequest("dna_title", "", prompt)
		req.Model = s.model
		req.Temperature = 0.9
		var text string
		text, err = s.client.Complete(ctx, req)
		if err == nil {
			if title := cleanTitle(text); title != "" {
				return title, false
			}
			err = errors.New("empty title")
		}
	}

	s.logger.Warn("title generation failed, using fallback", "error", err)
	return FallbackTitle(in.Virtue), true
}

// FallbackTitle is the deterministic title used when generation fails.
func FallbackTitle(virtue string) string {
	words := strings.Fields(virtue)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return "Adventure"
	}
	return strings.Join(words, " ") + " Adventure"
}

func cleanTitle(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"Title:", "title:", "TITLE:"} {
		text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
	}
	text = strings.Trim(text, "\"'*#` ")
	return prompts.Sanitize(text, prompts.MaxTitleLength)
}
