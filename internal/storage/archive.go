package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/vampirenirmal/storyforge/internal/story"
)

// RunsFile is the JSON-lines run log kept at the archive root.
const RunsFile = "runs.jsonl"

// Archive writes finished stories to disk for editors.
type Archive struct {
	fs     Storage
	logger *slog.Logger
}

func NewArchive(fs Storage) *Archive {
	return &Archive{
		fs:     fs,
		logger: slog.Default().With("component", "archive"),
	}
}

// WriteStory saves the manuscript, DNA and audit record of rec and returns
// the directory they were written to.
func (a *Archive) WriteStory(ctx context.Context, rec story.Record) (string, error) {
	dir := StoryDir(rec.Story.ID, rec.Story.Title, rec.Story.CreatedAt)

	manuscript := story.Assemble(rec.Story.Title, rec.Chapters)
	if err := a.fs.Save(ctx, path.Join(dir, "story.md"), []byte(manuscript)); err != nil {
		return "", fmt.Errorf("saving manuscript: %w", err)
	}

	dna, err := json.MarshalIndent(rec.DNA, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling dna: %w", err)
	}
	if err := a.fs.Save(ctx, path.Join(dir, "dna.json"), dna); err != nil {
		return "", fmt.Errorf("saving dna: %w", err)
	}

	meta, err := json.MarshalIndent(struct {
		Story story.Story     `json:"story"`
		Audit json.RawMessage `json:"audit,omitempty"`
	}{rec.Story, rec.Audit}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := a.fs.Save(ctx, path.Join(dir, "metadata.json"), meta); err != nil {
		return "", fmt.Errorf("saving metadata: %w", err)
	}

	a.logger.Info("story archived", "story_id", rec.Story.ID, "dir", dir)
	return dir, nil
}

// AppendRunLog adds one JSON line to the run log file.
func (a *Archive) AppendRunLog(ctx context.Context, entry RunLogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling run log: %w", err)
	}
	return a.fs.Append(ctx, RunsFile, append(line, '\n'))
}
