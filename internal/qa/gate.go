// Package qa scores a finished story for quality, safety and values and
// classifies it as approved, editor_queue or rejected.
package qa

import (
	"context"
	"log/slog"
	"time"

	"github.com/vampirenirmal/storyforge/internal/core"
	"github.com/vampirenirmal/storyforge/internal/gateway"
	"github.com/vampirenirmal/storyforge/internal/prompts"
	"github.com/vampirenirmal/storyforge/internal/story"
)

// Operation names used for gateway calls.
const (
	OpQuality = "qa_quality"
	OpSafety  = "qa_safety"
	OpValues  = "qa_values"
)

const reviewerSystem = "You are a careful children's book reviewer. Respond with JSON only."

// Assessment is the gate's full verdict for one story.
type Assessment struct {
	Quality    QualityScore `json:"quality"`
	Safety     SafetyResult `json:"safety"`
	Values     ValuesResult `json:"values"`
	Status     story.Status `json:"status"`
	DurationMS int64        `json:"duration_ms"`
}

type Gate struct {
	client     gateway.Completer
	prompts    *prompts.Library
	model      string
	thresholds Thresholds
	attempts   int
	logger     *slog.Logger
}

type Option func(*Gate)

func WithModel(model string) Option {
	return func(g *Gate) {
		g.model = model
	}
}

func WithThresholds(t Thresholds) Option {
	return func(g *Gate) {
		g.thresholds = t
	}
}

// WithAttempts bounds how often a scorer is re-asked after malformed output.
func WithAttempts(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.attempts = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger.With("component", "qa_gate")
	}
}

func New(client gateway.Completer, lib *prompts.Library, opts ...Option) *Gate {
	g := &Gate{
		client:     client,
		prompts:    lib,
		thresholds: DefaultThresholds(),
		attempts:   2,
		logger:     slog.Default().With("component", "qa_gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type scoreInput struct {
	Genre    string
	AgeRange string
	Level    story.ReadingLevel
	Virtue   string
	Criteria []string
	Text     string
}

func newScoreInput(text string, b story.Brief) scoreInput {
	policy := story.PolicyFor(b.ReadingLevel)
	return scoreInput{
		Genre:    prompts.Sanitize(b.Genre, prompts.MaxNameLength),
		AgeRange: policy.AgeRange,
		Level:    policy.Level,
		Virtue:   prompts.Sanitize(b.Virtue, prompts.MaxNameLength),
		Criteria: Criteria(policy.Level),
		Text:     text,
	}
}

// Evaluate runs the three scorers over the assembled text and decides.
func (g *Gate) Evaluate(ctx context.Context, text string, b story.Brief) (*Assessment, error) {
	start := time.Now()
	a := &Assessment{}

	var err error
	if a.Quality, err = g.ScoreQuality(ctx, text, b); err != nil {
		return nil, err
	}
	if a.Safety, err = g.CheckSafety(ctx, text, b); err != nil {
		return nil, err
	}
	if a.Values, err = g.ScoreValues(ctx, text, b); err != nil {
		return nil, err
	}

	a.Status = g.thresholds.Decide(a.Quality.Total, a.Safety.Passed, a.Values.Average)
	a.DurationMS = time.Since(start).Milliseconds()

	g.logger.Info("story assessed",
		"brief_id", b.ID,
		"quality", a.Quality.Total,
		"safety_passed", a.Safety.Passed,
		"safety_issues", len(a.Safety.Issues),
		"values_average", a.Values.Average,
		"status", a.Status,
		"duration_ms", a.DurationMS)
	return a, nil
}

func (g *Gate) ScoreQuality(ctx context.Context, text string, b story.Brief) (QualityScore, error) {
	var out QualityScore
	if err := g.score(ctx, OpQuality, prompts.QAQuality, newScoreInput(text, b), &out); err != nil {
		return QualityScore{}, err
	}
	out.normalize()
	return out, nil
}

func (g *Gate) CheckSafety(ctx context.Context, text string, b story.Brief) (SafetyResult, error) {
	var out SafetyResult
	if err := g.score(ctx, OpSafety, prompts.QASafety, newScoreInput(text, b), &out); err != nil {
		return SafetyResult{}, err
	}
	out.normalize()
	return out, nil
}

func (g *Gate) ScoreValues(ctx context.Context, text string, b story.Brief) (ValuesResult, error) {
	var out ValuesResult
	if err := g.score(ctx, OpValues, prompts.QAValues, newScoreInput(text, b), &out); err != nil {
		return ValuesResult{}, err
	}
	out.normalize()
	return out, nil
}

// score renders a scorer prompt and decodes the reply, re-asking only when
// the output was malformed.
func (g *Gate) score(ctx context.Context, op, tmpl string, in scoreInput, target interface{}) error {
	prompt, err := g.prompts.Render(tmpl, in)
	if err != nil {
		return err
	}
	req := gateway.NewRequest(op, reviewerSystem, prompt)
	req.Model = g.model
	req.Temperature = 0.2

	for attempt := 1; ; attempt++ {
		err = gateway.DecodeJSON(ctx, g.client, req, target)
		if err == nil {
			return nil
		}
		if !core.IsMalformed(err) || attempt >= g.attempts {
			return core.NewStageError(op, attempt, err)
		}
		g.logger.Warn("scorer returned malformed output, retrying",
			"operation", op,
			"attempt", attempt,
			"error", err)
	}
}
