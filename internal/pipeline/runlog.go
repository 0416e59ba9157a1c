package pipeline

import (
	"encoding/json"
	"time"

	"github.com/vampirenirmal/storyforge/internal/gateway"
	"github.com/vampirenirmal/storyforge/internal/storage"
	"github.com/vampirenirmal/storyforge/internal/story"
)

// StatusFailed marks a run that ended in a pipeline error.
const StatusFailed = "failed"

// Stage names used in timings.
const (
	StageDNA      = "dna"
	StageChapters = "chapters"
	StageQA       = "qa"
	StageCover    = "cover"
	StagePersist  = "persist"
)

// RunLog is the structured record of one pipeline run.
type RunLog struct {
	RunID       string                `json:"run_id"`
	BriefID     string                `json:"brief_id"`
	StoryID     string                `json:"story_id,omitempty"`
	Status      string                `json:"status"`
	BriefStatus story.BriefStatus     `json:"brief_status"`
	StartedAt   time.Time             `json:"started_at"`
	DurationMS  int64                 `json:"duration_ms"`
	StageMS     map[string]int64      `json:"stage_ms"`
	Usage       gateway.UsageSnapshot `json:"usage"`

	DNATries      map[string]int `json:"dna_tries,omitempty"`
	TitleFallback bool           `json:"title_fallback"`

	Chapters                int `json:"chapters"`
	Regenerations           int `json:"regenerations"`
	RegenerationFailures    int `json:"regeneration_failures"`
	ContinuityFailures      int `json:"continuity_failures"`
	ContinuityCheckFailures int `json:"continuity_check_failures"`
	ValidatorErrors         int `json:"validator_errors"`
	ValidatorWarnings       int `json:"validator_warnings"`

	QualityScore  int     `json:"quality_score"`
	SafetyPassed  bool    `json:"safety_passed"`
	ValuesAverage float64 `json:"values_average"`
	CoverURL      string  `json:"cover_url,omitempty"`
	CoverFallback bool    `json:"cover_fallback"`

	Error string `json:"error,omitempty"`
}

// Entry converts the log into a storage row carrying the full document.
func (l *RunLog) Entry() storage.RunLogEntry {
	doc, err := json.Marshal(l)
	if err != nil {
		doc = nil
	}
	return storage.RunLogEntry{
		RunID:      l.RunID,
		BriefID:    l.BriefID,
		StoryID:    l.StoryID,
		Status:     l.Status,
		Error:      l.Error,
		StartedAt:  l.StartedAt,
		DurationMS: l.DurationMS,
		Document:   doc,
	}
}
