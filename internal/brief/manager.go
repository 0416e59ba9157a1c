package brief

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vampirenirmal/storyforge/internal/core"
	"github.com/vampirenirmal/storyforge/internal/story"
)

// DefaultMaxAttempts is the number of failed runs after which a brief is
// dead-lettered.
const DefaultMaxAttempts = 2

// Claim races for at most claimBatch briefs per round.
const (
	claimBatch  = 5
	claimRounds = 10
)

// Manager owns every status transition of a brief.
type Manager struct {
	store       Store
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Manager)

func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With("component", "brief_queue")
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default().With("component", "brief_queue"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue validates b and inserts it as a fresh queued brief.
func (m *Manager) Enqueue(ctx context.Context, b story.Brief) (story.Brief, error) {
	b.Prepare(m.now())
	if err := b.Validate(); err != nil {
		return story.Brief{}, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	if err := m.store.InsertBrief(ctx, b); err != nil {
		return story.Brief{}, fmt.Errorf("inserting brief: %w", err)
	}
	m.logger.Info("brief enqueued",
		"brief_id", b.ID,
		"reading_level", b.ReadingLevel,
		"genre", b.Genre,
		"target_chapters", b.TargetChapters)
	return b, nil
}

// NextQueued returns the oldest queued brief, or core.ErrNoQueuedBrief.
func (m *Manager) NextQueued(ctx context.Context) (story.Brief, error) {
	briefs, err := m.store.SelectBriefs(ctx, story.BriefQueued, 1)
	if err != nil {
		return story.Brief{}, fmt.Errorf("selecting queued briefs: %w", err)
	}
	if len(briefs) == 0 {
		return story.Brief{}, core.ErrNoQueuedBrief
	}
	return briefs[0], nil
}

// MarkGenerating claims the brief. It fails with core.ErrBriefNotClaimable
// when another worker got there first or the brief is no longer queued.
func (m *Manager) MarkGenerating(ctx context.Context, id string) error {
	ok, err := m.store.ClaimBrief(ctx, id, m.now())
	if err != nil {
		return fmt.Errorf("claiming brief %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("brief %s: %w", id, core.ErrBriefNotClaimable)
	}
	m.logger.Debug("brief claimed", "brief_id", id)
	return nil
}

// Claim returns the oldest queued brief this caller managed to claim.
func (m *Manager) Claim(ctx context.Context) (story.Brief, error) {
	for round := 0; round < claimRounds; round++ {
		briefs, err := m.store.SelectBriefs(ctx, story.BriefQueued, claimBatch)
		if err != nil {
			return story.Brief{}, fmt.Errorf("selecting queued briefs: %w", err)
		}
		if len(briefs) == 0 {
			return story.Brief{}, core.ErrNoQueuedBrief
		}

		for _, b := range briefs {
			err := m.MarkGenerating(ctx, b.ID)
			if errors.Is(err, core.ErrBriefNotClaimable) {
				continue
			}
			if err != nil {
				return story.Brief{}, err
			}
			b.Status = story.BriefGenerating
			return b, nil
		}

		// Every candidate was taken by other workers; look again.
		if err := ctx.Err(); err != nil {
			return story.Brief{}, err
		}
	}
	return story.Brief{}, core.ErrNoQueuedBrief
}

// MarkCompleted records the story produced for a generating brief.
func (m *Manager) MarkCompleted(ctx context.Context, id, storyID string) error {
	b, err := m.store.GetBrief(ctx, id)
	if err != nil {
		return fmt.Errorf("loading brief %s: %w", id, err)
	}
	if b.Status != story.BriefGenerating {
		return fmt.Errorf("brief %s is %s, not generating: %w", id, b.Status, core.ErrInvalidInput)
	}

	b.Status = story.BriefCompleted
	b.StoryID = storyID
	b.FailureReason = ""
	b.UpdatedAt = m.now()
	if err := m.store.UpdateBrief(ctx, b); err != nil {
		return fmt.Errorf("updating brief %s: %w", id, err)
	}

	m.logger.Info("brief completed", "brief_id", id, "story_id", storyID)
	return nil
}

// MarkFailed counts a failed run. The brief is requeued until it reaches
// the attempt limit, then dead-lettered. It returns the new status.
func (m *Manager) MarkFailed(ctx context.Context, id, reason string) (story.BriefStatus, error) {
	b, err := m.store.GetBrief(ctx, id)
	if err != nil {
		return "", fmt.Errorf("loading brief %s: %w", id, err)
	}

	if b.Status.Terminal() {
		return b.Status, fmt.Errorf("brief %s is already %s: %w", id, b.Status, core.ErrInvalidInput)
	}

	b.Attempts++
	b.FailureReason = reason
	b.UpdatedAt = m.now()
	if b.Attempts >= m.maxAttempts {
		b.Status = story.BriefFailed
	} else {
		b.Status = story.BriefQueued
	}

	if err := m.store.UpdateBrief(ctx, b); err != nil {
		return "", fmt.Errorf("updating brief %s: %w", id, err)
	}

	if b.Status == story.BriefFailed {
		m.logger.Error("brief dead-lettered",
			"brief_id", id,
			"attempts", b.Attempts,
			"reason", reason)
	} else {
		m.logger.Warn("brief requeued",
			"brief_id", id,
			"attempts", b.Attempts,
			"reason", reason)
	}
	return b.Status, nil
}

// Requeue returns an interrupted brief to the queue without counting an
// attempt against it.
func (m *Manager) Requeue(ctx context.Context, id, reason string) error {
	b, err := m.store.GetBrief(ctx, id)
	if err != nil {
		return fmt.Errorf("loading brief %s: %w", id, err)
	}
	if b.Status.Terminal() {
		return fmt.Errorf("brief %s is already %s: %w", id, b.Status, core.ErrInvalidInput)
	}

	b.Status = story.BriefQueued
	b.FailureReason = reason
	b.UpdatedAt = m.now()
	if err := m.store.UpdateBrief(ctx, b); err != nil {
		return fmt.Errorf("updating brief %s: %w", id, err)
	}

	m.logger.Info("brief returned to queue", "brief_id", id, "attempts", b.Attempts, "reason", reason)
	return nil
}

// Counts returns the number of briefs per status.
func (m *Manager) Counts(ctx context.Context) (map[story.BriefStatus]int, error) {
	return m.store.CountBriefs(ctx)
}
