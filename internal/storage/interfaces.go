package storage

import (
	"context"
	"encoding/json"
	"time"
)

type Storage interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Append(ctx context.Context, path string, data []byte) error
}

// RunLogEntry is one row of the append-only run log.
type RunLogEntry struct {
	RunID      string          `json:"run_id"`
	BriefID    string          `json:"brief_id"`
	StoryID    string          `json:"story_id,omitempty"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
	Document   json.RawMessage `json:"document"`
}
