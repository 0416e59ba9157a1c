package pipeline

import (
	"context"

	"github.com/vampirenirmal/storyforge/internal/chapter"
	"github.com/vampirenirmal/storyforge/internal/cover"
	"github.com/vampirenirmal/storyforge/internal/dna"
	"github.com/vampirenirmal/storyforge/internal/qa"
	"github.com/vampirenirmal/storyforge/internal/storage"
	"github.com/vampirenirmal/storyforge/internal/story"
)

type Synthesizer interface {
	Synthesize(ctx context.Context, b story.Brief) (*dna.Result, error)
}

type ChapterWriter interface {
	GenerateAll(ctx context.Context, d *story.DNA) (*chapter.Result, error)
}

type Assessor interface {
	Evaluate(ctx context.Context, text string, b story.Brief) (*qa.Assessment, error)
}

type CoverArtist interface {
	Generate(ctx context.Context, d *story.DNA) cover.Result
}

// Sink persists finished stories and run logs.
type Sink interface {
	SaveStory(ctx context.Context, rec story.Record) (string, error)
	AppendRunLog(ctx context.Context, entry storage.RunLogEntry) error
}

// Briefs is the part of the brief queue a pipeline run drives.
type Briefs interface {
	Claim(ctx context.Context) (story.Brief, error)
	MarkCompleted(ctx context.Context, id, storyID string) error
	MarkFailed(ctx context.Context, id, reason string) (story.BriefStatus, error)
	Requeue(ctx context.Context, id, reason string) error
}
