package story

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Brief is an immutable creative request. Only Status, Attempts,
// FailureReason and StoryID change, and only through the brief queue.
type Brief struct {
	ID             string       `json:"id" yaml:"id"`
	ReadingLevel   ReadingLevel `json:"reading_level" yaml:"reading_level" validate:"required,oneof=early developing independent advanced"`
	Genre          string       `json:"genre" yaml:"genre" validate:"required,max=40"`
	Virtue         string       `json:"virtue" yaml:"virtue" validate:"required,max=40"`
	Themes         []string     `json:"themes" yaml:"themes" validate:"max=8,dive,required,max=120"`
	Avoid          []string     `json:"avoid" yaml:"avoid" validate:"max=12,dive,required,max=120"`
	CharacterNames []string     `json:"character_names,omitempty" yaml:"character_names" validate:"max=6,dive,required,max=60"`
	TargetChapters int          `json:"target_chapters" yaml:"target_chapters" validate:"min=1,max=30"`
	TargetWords    int          `json:"target_words" yaml:"target_words" validate:"min=100,max=100000"`

	Status        BriefStatus `json:"status" yaml:"-"`
	Attempts      int         `json:"attempts" yaml:"-"`
	FailureReason string      `json:"failure_reason,omitempty" yaml:"-"`
	StoryID       string      `json:"story_id,omitempty" yaml:"-"`
	CreatedAt     time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time   `json:"updated_at" yaml:"-"`
}

// Prepare fills identity, queue state and level-derived defaults on a brief
// that is about to be inserted.
func (b *Brief) Prepare(now time.Time) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	policy := PolicyFor(b.ReadingLevel)
	if b.TargetChapters == 0 {
		b.TargetChapters = policy.Chapters
	}
	if b.TargetWords == 0 {
		b.TargetWords = policy.TargetWords
	}
	b.Status = BriefQueued
	b.Attempts = 0
	b.CreatedAt = now
	b.UpdatedAt = now
}

// Validate checks the brief's struct tags.
func (b *Brief) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("invalid brief: %w", err)
	}
	return nil
}
