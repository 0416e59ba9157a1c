package brief

import (
	"context"
	"time"

	"github.com/vampirenirmal/storyforge/internal/story"
)

// Store is the durable brief source. Implementations must make ClaimBrief
// atomic with respect to the queued-status read.
type Store interface {
	InsertBrief(ctx context.Context, b story.Brief) error
	UpdateBrief(ctx context.Context, b story.Brief) error
	GetBrief(ctx context.Context, id string) (story.Brief, error)
	// SelectBriefs returns briefs in status, oldest first. limit <= 0 means all.
	SelectBriefs(ctx context.Context, status story.BriefStatus, limit int) ([]story.Brief, error)
	// ClaimBrief moves a brief from queued to generating and reports whether
	// this caller won the claim.
	ClaimBrief(ctx context.Context, id string, now time.Time) (bool, error)
	CountBriefs(ctx context.Context) (map[story.BriefStatus]int, error)
}
