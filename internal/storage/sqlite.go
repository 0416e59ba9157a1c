package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vampirenirmal/storyforge/internal/core"
	"github.com/vampirenirmal/storyforge/internal/story"
)

const schema = `
CREATE TABLE IF NOT EXISTS briefs (
	id              TEXT PRIMARY KEY,
	reading_level   TEXT NOT NULL,
	genre           TEXT NOT NULL,
	virtue          TEXT NOT NULL,
	themes          TEXT NOT NULL,
	avoid           TEXT NOT NULL,
	character_names TEXT NOT NULL,
	target_chapters INTEGER NOT NULL,
	target_words    INTEGER NOT NULL,
	status          TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	failure_reason  TEXT NOT NULL DEFAULT '',
	story_id        TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_briefs_status_created ON briefs(status, created_at);

CREATE TABLE IF NOT EXISTS stories (
	id             TEXT PRIMARY KEY,
	brief_id       TEXT NOT NULL,
	title          TEXT NOT NULL,
	genre          TEXT NOT NULL,
	reading_level  TEXT NOT NULL,
	status         TEXT NOT NULL,
	word_count     INTEGER NOT NULL,
	quality_score  INTEGER NOT NULL,
	safety_passed  INTEGER NOT NULL,
	values_average REAL NOT NULL,
	cover_url      TEXT NOT NULL,
	audit          TEXT,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chapters (
	story_id          TEXT NOT NULL,
	number            INTEGER NOT NULL,
	title             TEXT NOT NULL,
	text              TEXT NOT NULL,
	word_count        INTEGER NOT NULL,
	spec              TEXT NOT NULL,
	summary           TEXT NOT NULL,
	regenerated       INTEGER NOT NULL,
	continuity_passed INTEGER NOT NULL,
	violations        TEXT NOT NULL,
	PRIMARY KEY (story_id, number),
	FOREIGN KEY (story_id) REFERENCES stories(id)
);

CREATE TABLE IF NOT EXISTS story_dna (
	story_id TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	FOREIGN KEY (story_id) REFERENCES stories(id)
);

CREATE TABLE IF NOT EXISTS run_logs (
	run_id      TEXT PRIMARY KEY,
	brief_id    TEXT NOT NULL,
	story_id    TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	document    TEXT NOT NULL
);
`

// Fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is the durable brief source, persistence sink and run log sink.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps pragmas in force and serialises writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func marshalList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func unmarshalList(data string) []string {
	var items []string
	_ = json.Unmarshal([]byte(data), &items)
	if len(items) == 0 {
		return nil
	}
	return items
}

func (s *SQLite) InsertBrief(ctx context.Context, b story.Brief) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO briefs (id, reading_level, genre, virtue, themes, avoid, character_names,
			target_chapters, target_words, status, attempts, failure_reason, story_id, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, string(b.ReadingLevel), b.Genre, b.Virtue,
		marshalList(b.Themes), marshalList(b.Avoid), marshalList(b.CharacterNames),
		b.TargetChapters, b.TargetWords, string(b.Status), b.Attempts, b.FailureReason, b.StoryID,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert brief: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateBrief(ctx context.Context, b story.Brief) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE briefs SET status = ?, attempts = ?, failure_reason = ?, story_id = ?, updated_at = ? WHERE id = ?`,
		string(b.Status), b.Attempts, b.FailureReason, b.StoryID, formatTime(b.UpdatedAt), b.ID,
	)
	if err != nil {
		return fmt.Errorf("update brief: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("brief %s: %w", b.ID, core.ErrBriefNotFound)
	}
	return nil
}

const briefColumns = `id, reading_level, genre, virtue, themes, avoid, character_names,
	target_chapters, target_words, status, attempts, failure_reason, story_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBrief(row rowScanner) (story.Brief, error) {
	var (
		b                    story.Brief
		level, status        string
		themes, avoid, names string
		createdAt, updatedAt string
	)
	err := row.Scan(&b.ID, &level, &b.Genre, &b.Virtue, &themes, &avoid, &names,
		&b.TargetChapters, &b.TargetWords, &status, &b.Attempts, &b.FailureReason, &b.StoryID,
		&createdAt, &updatedAt)
	if err != nil {
		return story.Brief{}, err
	}
	b.ReadingLevel = story.ReadingLevel(level)
	b.Status = story.BriefStatus(status)
	b.Themes = unmarshalList(themes)
	b.Avoid = unmarshalList(avoid)
	b.CharacterNames = unmarshalList(names)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func (s *SQLite) GetBrief(ctx context.Context, id string) (story.Brief, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+briefColumns+` FROM briefs WHERE id = ?`, id)
	b, err := scanBrief(row)
	if errors.Is(err, sql.ErrNoRows) {
		return story.Brief{}, fmt.Errorf("brief %s: %w", id, core.ErrBriefNotFound)
	}
	if err != nil {
		return story.Brief{}, fmt.Errorf("query brief: %w", err)
	}
	return b, nil
}

func (s *SQLite) SelectBriefs(ctx context.Context, status story.BriefStatus, limit int) ([]story.Brief, error) {
	query := `SELECT ` + briefColumns + ` FROM briefs WHERE status = ? ORDER BY created_at, rowid`
	args := []interface{}{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query briefs: %w", err)
	}
	defer rows.Close()

	var out []story.Brief
	for rows.Next() {
		b, err := scanBrief(rows)
		if err != nil {
			return nil, fmt.Errorf("scan brief: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ClaimBrief is a single conditional UPDATE, so only one caller can move a
// given brief out of queued.
func (s *SQLite) ClaimBrief(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE briefs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(story.BriefGenerating), formatTime(now), id, string(story.BriefQueued),
	)
	if err != nil {
		return false, fmt.Errorf("claim brief: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim brief: %w", err)
	}
	return n == 1, nil
}

func (s *SQLite) CountBriefs(ctx context.Context) (map[story.BriefStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM briefs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count briefs: %w", err)
	}
	defer rows.Close()

	counts := make(map[story.BriefStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[story.BriefStatus(status)] = n
	}
	return counts, rows.Err()
}

// SaveStory inserts the story, then its chapters and DNA, in one
// transaction. It returns the story id, generating one if rec has none.
func (s *SQLite) SaveStory(ctx context.Context, rec story.Record) (string, error) {
	st := rec.Story
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var audit interface{}
	if len(rec.Audit) > 0 {
		audit = string(rec.Audit)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO stories (id, brief_id, title, genre, reading_level, status, word_count,
			quality_score, safety_passed, values_average, cover_url, audit, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		st.ID, st.BriefID, st.Title, st.Genre, string(st.ReadingLevel), string(st.Status), st.WordCount,
		st.QualityScore, st.SafetyPassed, st.ValuesAverage, st.CoverURL, audit, formatTime(st.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert story: %w", err)
	}

	for _, ch := range rec.Chapters {
		spec, err := json.Marshal(ch.Spec)
		if err != nil {
			return "", fmt.Errorf("marshal chapter %d spec: %w", ch.Number, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chapters (story_id, number, title, text, word_count, spec, summary,
				regenerated, continuity_passed, violations)
			 VALUES (?,?,?,?,?,?,?,?,?,?)`,
			st.ID, ch.Number, ch.Title, ch.Text, ch.WordCount, string(spec), ch.Summary,
			ch.Regenerated, ch.ContinuityPassed, marshalList(ch.Violations),
		)
		if err != nil {
			return "", fmt.Errorf("insert chapter %d: %w", ch.Number, err)
		}
	}

	if rec.DNA != nil {
		doc, err := json.Marshal(rec.DNA)
		if err != nil {
			return "", fmt.Errorf("marshal dna: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO story_dna (story_id, document) VALUES (?, ?)`, st.ID, string(doc)); err != nil {
			return "", fmt.Errorf("insert dna: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return st.ID, nil
}

// StorySummary is one row of the stories table without its chapters.
type StorySummary struct {
	ID           string
	Title        string
	Status       story.Status
	QualityScore int
	CreatedAt    time.Time
}

// RecentStories lists the newest stories first.
func (s *SQLite) RecentStories(ctx context.Context, limit int) ([]StorySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, status, quality_score, created_at FROM stories ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	var out []StorySummary
	for rows.Next() {
		var (
			sum               StorySummary
			status, createdAt string
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &status, &sum.QualityScore, &createdAt); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		sum.Status = story.Status(status)
		sum.CreatedAt = parseTime(createdAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ChapterNumbers returns the stored chapter numbers of a story in order.
func (s *SQLite) ChapterNumbers(ctx context.Context, storyID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT number FROM chapters WHERE story_id = ? ORDER BY number`, storyID)
	if err != nil {
		return nil, fmt.Errorf("query chapters: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendRunLog(ctx context.Context, entry RunLogEntry) error {
	doc := string(entry.Document)
	if doc == "" {
		doc = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs (run_id, brief_id, story_id, status, error, started_at, duration_ms, document)
		 VALUES (?,?,?,?,?,?,?,?)`,
		entry.RunID, entry.BriefID, entry.StoryID, entry.Status, entry.Error,
		formatTime(entry.StartedAt), entry.DurationMS, doc,
	)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}

// RunLogs returns the run log entries of a brief, oldest first.
func (s *SQLite) RunLogs(ctx context.Context, briefID string) ([]RunLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, brief_id, story_id, status, error, started_at, duration_ms, document
		 FROM run_logs WHERE brief_id = ? ORDER BY started_at, rowid`, briefID)
	if err != nil {
		return nil, fmt.Errorf("query run logs: %w", err)
	}
	defer rows.Close()

	var out []RunLogEntry
	for rows.Next() {
		var (
			e              RunLogEntry
			startedAt, doc string
		)
		if err := rows.Scan(&e.RunID, &e.BriefID, &e.StoryID, &e.Status, &e.Error, &startedAt, &e.DurationMS, &doc); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		e.StartedAt = parseTime(startedAt)
		e.Document = json.RawMessage(doc)
		out = append(out, e)
	}
	return out, rows.Err()
}
