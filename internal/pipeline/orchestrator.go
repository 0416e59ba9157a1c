// Package pipeline runs one brief end to end: DNA, chapters, QA, cover and
// persistence. Workers claim briefs from the queue and a pool runs several
// workers at once.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/storyforge/internal/chapter"
	"github.com/vampirenirmal/storyforge/internal/cover"
	"github.com/vampirenirmal/storyforge/internal/gateway"
	"github.com/vampirenirmal/storyforge/internal/qa"
	"github.com/vampirenirmal/storyforge/internal/storage"
	"github.com/vampirenirmal/storyforge/internal/story"
	"github.com/vampirenirmal/storyforge/internal/validate"
)

type Orchestrator struct {
	synth      Synthesizer
	writer     ChapterWriter
	gate       Assessor
	cover      CoverArtist
	sink       Sink
	briefs     Briefs
	archive    *storage.Archive
	runTimeout time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Orchestrator)

// WithCover enables cover generation. Without it every story gets the
// genre fallback.
func WithCover(c CoverArtist) Option {
	return func(o *Orchestrator) {
		o.cover = c
	}
}

// WithArchive writes each persisted story and run log to disk as well.
func WithArchive(a *storage.Archive) Option {
	return func(o *Orchestrator) {
		o.archive = a
	}
}

// WithRunTimeout bounds the wall-clock time of a single run.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.runTimeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger.With("component", "pipeline")
	}
}

func New(synth Synthesizer, writer ChapterWriter, gate Assessor, sink Sink, briefs Briefs, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		synth:  synth,
		writer: writer,
		gate:   gate,
		sink:   sink,
		briefs: briefs,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// audit is persisted with the story and never read back by generation.
type audit struct {
	Assessment *qa.Assessment          `json:"assessment"`
	Validation map[int]validate.Result `json:"validation"`
	Cover      cover.Result            `json:"cover"`
	RunID      string                  `json:"run_id"`
}

// Run takes a claimed brief through the whole pipeline. Any error before
// the story is persisted fails the brief and persists nothing; a rejected
// story is a normal outcome. Cancelling ctx returns the brief to the queue
// without spending an attempt.
func (o *Orchestrator) Run(ctx context.Context, b story.Brief) (*RunLog, error) {
	runLog := &RunLog{
		RunID:     uuid.New().String(),
		BriefID:   b.ID,
		StartedAt: o.now(),
		StageMS:   make(map[string]int64),
	}
	logger := o.logger.With("run_id", runLog.RunID, "brief_id", b.ID)
	start := time.Now()

	parent := ctx
	usage := &gateway.Usage{}
	ctx = gateway.WithUsage(ctx, usage)
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	logger.Info("pipeline run started",
		"reading_level", b.ReadingLevel,
		"genre", b.Genre,
		"chapters", b.TargetChapters)

	fail := func(stage string, err error) (*RunLog, error) {
		err = fmt.Errorf("%s: %w", stage, err)
		runLog.Status = StatusFailed
		runLog.Error = err.Error()
		runLog.Usage = usage.Snapshot()
		runLog.DurationMS = time.Since(start).Milliseconds()

		// The run context may already be cancelled; bookkeeping must still land.
		bg := context.WithoutCancel(ctx)
		var status story.BriefStatus
		var markErr error
		if errors.Is(parent.Err(), context.Canceled) {
			status = story.BriefQueued
			markErr = o.briefs.Requeue(bg, b.ID, err.Error())
		} else {
			status, markErr = o.briefs.MarkFailed(bg, b.ID, err.Error())
		}
		if markErr != nil {
			logger.Error("failed to record brief failure", "error", markErr)
		}
		runLog.BriefStatus = status

		logger.Error("pipeline run failed",
			"stage", stage,
			"brief_status", status,
			"duration_ms", runLog.DurationMS,
			"error", err)
		o.writeRunLog(bg, logger, runLog)
		return runLog, err
	}

	t := time.Now()
	synth, err := o.synth.Synthesize(ctx, b)
	runLog.StageMS[StageDNA] = time.Since(t).Milliseconds()
	if err != nil {
		return fail(StageDNA, err)
	}
	d := synth.DNA
	runLog.StoryID = d.StoryID
	runLog.DNATries = synth.Tries
	runLog.TitleFallback = synth.TitleFallback
	logger = logger.With("story_id", d.StoryID)

	t = time.Now()
	written, err := o.writer.GenerateAll(ctx, d)
	runLog.StageMS[StageChapters] = time.Since(t).Milliseconds()
	if err != nil {
		return fail(StageChapters, err)
	}
	expected := b.TargetChapters
	if expected <= 0 {
		expected = d.Meta.ChapterCount
	}
	if err := chapter.CheckComplete(written.Chapters, expected); err != nil {
		return fail(StageChapters, err)
	}
	runLog.Chapters = len(written.Chapters)
	runLog.Regenerations = written.Regenerations
	runLog.RegenerationFailures = written.RegenerationFailures
	runLog.ContinuityFailures = written.ContinuityFailures
	runLog.ContinuityCheckFailures = written.CheckerErrors
	for _, v := range written.Validation {
		runLog.ValidatorErrors += len(v.Errors())
		runLog.ValidatorWarnings += len(v.Warnings())
	}
	if written.CheckerErrors > 0 {
		logger.Warn("continuity checks were skipped",
			"failures", written.CheckerErrors,
			"chapters", len(written.Chapters))
	}

	t = time.Now()
	manuscript := story.Assemble(d.Meta.Title, written.Chapters)
	assessment, err := o.gate.Evaluate(ctx, manuscript, b)
	runLog.StageMS[StageQA] = time.Since(t).Milliseconds()
	if err != nil {
		return fail(StageQA, err)
	}
	runLog.QualityScore = assessment.Quality.Total
	runLog.SafetyPassed = assessment.Safety.Passed
	runLog.ValuesAverage = assessment.Values.Average

	t = time.Now()
	art := cover.Result{URL: cover.Fallback(d.Meta.Genre), Fallback: true}
	if o.cover != nil {
		art = o.cover.Generate(ctx, d)
	}
	runLog.StageMS[StageCover] = time.Since(t).Milliseconds()
	runLog.CoverURL = art.URL
	runLog.CoverFallback = art.Fallback

	words := 0
	for _, ch := range written.Chapters {
		words += ch.WordCount
	}
	auditDoc, err := json.Marshal(audit{
		Assessment: assessment,
		Validation: written.Validation,
		Cover:      art,
		RunID:      runLog.RunID,
	})
	if err != nil {
		return fail(StagePersist, err)
	}
	rec := story.Record{
		Story: story.Story{
			ID:            d.StoryID,
			BriefID:       b.ID,
			Title:         d.Meta.Title,
			Genre:         d.Meta.Genre,
			ReadingLevel:  d.Meta.ReadingLevel,
			Status:        assessment.Status,
			WordCount:     words,
			QualityScore:  assessment.Quality.Total,
			SafetyPassed:  assessment.Safety.Passed,
			ValuesAverage: assessment.Values.Average,
			CoverURL:      art.URL,
			CreatedAt:     o.now(),
		},
		Chapters: written.Chapters,
		DNA:      d,
		Audit:    auditDoc,
	}

	t = time.Now()
	storyID, err := o.sink.SaveStory(ctx, rec)
	runLog.StageMS[StagePersist] = time.Since(t).Milliseconds()
	if err != nil {
		return fail(StagePersist, err)
	}
	rec.Story.ID = storyID
	runLog.StoryID = storyID

	bg := context.WithoutCancel(ctx)
	if err := o.briefs.MarkCompleted(bg, b.ID, storyID); err != nil {
		logger.Error("story saved but brief not completed", "error", err)
		runLog.Error = err.Error()
		runLog.BriefStatus = story.BriefGenerating
	} else {
		runLog.BriefStatus = story.BriefCompleted
	}

	if o.archive != nil {
		if _, err := o.archive.WriteStory(bg, rec); err != nil {
			logger.Warn("archiving story failed", "error", err)
		}
	}

	runLog.Status = string(assessment.Status)
	runLog.Usage = usage.Snapshot()
	runLog.DurationMS = time.Since(start).Milliseconds()
	o.writeRunLog(bg, logger, runLog)

	logger.Info("pipeline run finished",
		"status", runLog.Status,
		"title", d.Meta.Title,
		"quality", runLog.QualityScore,
		"input_tokens", runLog.Usage.InputTokens,
		"output_tokens", runLog.Usage.OutputTokens,
		"duration_ms", runLog.DurationMS)
	return runLog, nil
}

func (o *Orchestrator) writeRunLog(ctx context.Context, logger *slog.Logger, runLog *RunLog) {
	entry := runLog.Entry()
	if err := o.sink.AppendRunLog(ctx, entry); err != nil {
		logger.Error("writing run log failed", "error", err)
	}
	if o.archive != nil {
		if err := o.archive.AppendRunLog(ctx, entry); err != nil {
			logger.Warn("archiving run log failed", "error", err)
		}
	}
}
