package brief

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vampirenirmal/storyforge/internal/core"
	"github.com/vampirenirmal/storyforge/internal/story"
)

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	briefs map[string]story.Brief
	order  map[string]int
	seq    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		briefs: make(map[string]story.Brief),
		order:  make(map[string]int),
	}
}

func (s *MemoryStore) InsertBrief(ctx context.Context, b story.Brief) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.briefs[b.ID]; exists {
		return fmt.Errorf("brief %s already exists: %w", b.ID, core.ErrInvalidInput)
	}
	s.briefs[b.ID] = copyBrief(b)
	s.order[b.ID] = s.seq
	s.seq++
	return nil
}

func (s *MemoryStore) UpdateBrief(ctx context.Context, b story.Brief) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.briefs[b.ID]; !exists {
		return fmt.Errorf("brief %s: %w", b.ID, core.ErrBriefNotFound)
	}
	s.briefs[b.ID] = copyBrief(b)
	return nil
}

func (s *MemoryStore) GetBrief(ctx context.Context, id string) (story.Brief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.briefs[id]
	if !ok {
		return story.Brief{}, fmt.Errorf("brief %s: %w", id, core.ErrBriefNotFound)
	}
	return copyBrief(b), nil
}

func (s *MemoryStore) SelectBriefs(ctx context.Context, status story.BriefStatus, limit int) ([]story.Brief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []story.Brief
	for _, b := range s.briefs {
		if b.Status == status {
			out = append(out, copyBrief(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ClaimBrief(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.briefs[id]
	if !ok || b.Status != story.BriefQueued {
		return false, nil
	}
	b.Status = story.BriefGenerating
	b.UpdatedAt = now
	s.briefs[id] = b
	return true, nil
}

func (s *MemoryStore) CountBriefs(ctx context.Context) (map[story.BriefStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[story.BriefStatus]int)
	for _, b := range s.briefs {
		counts[b.Status]++
	}
	return counts, nil
}

func copyBrief(b story.Brief) story.Brief {
	b.Themes = append([]string(nil), b.Themes...)
	b.Avoid = append([]string(nil), b.Avoid...)
	b.CharacterNames = append([]string(nil), b.CharacterNames...)
	return b
}
