package chapter

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/vampirenirmal/storyforge/internal/core"
	"github.com/vampirenirmal/storyforge/internal/gateway"
	"github.com/vampirenirmal/storyforge/internal/prompts"
	"github.com/vampirenirmal/storyforge/internal/story"
	"github.com/vampirenirmal/storyforge/internal/story/storytest"
)

const passJSON = `{"pass": true, "violations": []}`

func cleanHandler(req gateway.Request) (gateway.Completion, error) {
	switch req.Operation {
	case OpDraft:
		return gateway.Completion{Text: storytest.ChapterText(500)}, nil
	case OpContinuity:
		return gateway.Completion{Text: passJSON}, nil
	}
	return gateway.Completion{}, errors.New("unexpected operation " + req.Operation)
}

func newGen(client gateway.Completer) *Generator {
	return New(client, prompts.NewLibrary(""), WithModel("writer"), WithCheckerModel("checker"))
}

func TestGenerateAllInOrder(t *testing.T) {
	client := gateway.NewMockClient(cleanHandler)
	d := storytest.DNA()

	res, err := newGen(client).GenerateAll(context.Background(), d)
	if err != nil {
		t.Fatalf("GenerateAll() error = %v", err)
	}

	if len(res.Chapters) != 3 {
		t.Fatalf("chapters = %d, want 3", len(res.Chapters))
	}
	for i, ch := range res.Chapters {
		if ch.Number != i+1 || ch.StoryID != d.StoryID || ch.Title != d.ChapterSpecs[i].Title {
			t.Errorf("chapter %d = %+v", i+1, ch)
		}
		if ch.Regenerated || !ch.ContinuityPassed || ch.WordCount != 500 {
			t.Errorf("chapter %d regenerated=%v passed=%v words=%d", ch.Number, ch.Regenerated, ch.ContinuityPassed, ch.WordCount)
		}
		if ch.Ending == "" || ch.Summary == "" {
			t.Errorf("chapter %d missing ending or summary", ch.Number)
		}
	}
	if res.Regenerations != 0 || res.ContinuityFailures != 0 || res.CheckerErrors != 0 {
		t.Errorf("result counters = %+v", res)
	}
	if d.StoryState.LastAcceptedChapter != 3 || len(d.StoryState.CharacterKnowledge["Mia"]) != 2 {
		t.Errorf("ledger = %+v", d.StoryState)
	}
	if !d.EditorialChecklist.ContinuityChecked || !d.EditorialChecklist.CliffhangersResolved {
		t.Errorf("checklist = %+v", d.EditorialChecklist)
	}

	drafts := client.CallsFor(OpDraft)
	checks := client.CallsFor(OpContinuity)
	if len(drafts) != 3 || len(checks) != 3 {
		t.Fatalf("drafts=%d checks=%d, want 3 each", len(drafts), len(checks))
	}
	if drafts[0].Model != "writer" || checks[0].Model != "checker" {
		t.Errorf("models = %q/%q", drafts[0].Model, checks[0].Model)
	}
	if strings.Contains(drafts[0].UserPrompt(), "previous chapter ended") {
		t.Error("chapter 1 prompt should have no previous ending")
	}
	if !strings.Contains(drafts[1].UserPrompt(), res.Chapters[0].Ending) {
		t.Error("chapter 2 prompt does not carry chapter 1's ending")
	}
	if !strings.Contains(drafts[1].UserPrompt(), "They spot the kite in the oak") {
		t.Error("chapter 2 prompt does not carry the cliffhanger resolution plan")
	}
	if !strings.Contains(drafts[0].SystemPrompt(), "Only use these characters: Leo, Mia, Pip") {
		t.Error("system prompt does not lock the roster")
	}
}

func TestGenerateAllKeepsPronounsLocked(t *testing.T) {
	client := gateway.NewMockClient(cleanHandler)
	d := storytest.DNA()
	before := d.Pronouns()

	if _, err := newGen(client).GenerateAll(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	if after := d.Pronouns(); !reflect.DeepEqual(before, after) {
		t.Errorf("pronouns changed: %v -> %v", before, after)
	}
}

func TestGenerateAllRegeneratesOnce(t *testing.T) {
	var checks atomic.Int32
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		if req.Operation == OpContinuity {
			checks.Add(1)
			if strings.Contains(req.UserPrompt(), "Chapter 2 draft") {
				return gateway.Completion{Text: `{"pass": false, "violations": ["Leo is called she"]}`}, nil
			}
		}
		return cleanHandler(req)
	})
	d := storytest.DNA()

	res, err := newGen(client).GenerateAll(context.Background(), d)
	if err != nil {
		t.Fatalf("GenerateAll() error = %v", err)
	}

	if res.Regenerations != 1 || res.ContinuityFailures != 1 {
		t.Errorf("regenerations=%d failures=%d, want 1/1", res.Regenerations, res.ContinuityFailures)
	}
	drafts := client.CallsFor(OpDraft)
	if len(drafts) != 4 {
		t.Fatalf("drafts = %d, want 4", len(drafts))
	}
	if !strings.Contains(drafts[2].UserPrompt(), "Leo is called she") {
		t.Error("regeneration prompt does not list the violations")
	}
	if checks.Load() != 4 {
		t.Errorf("continuity checks = %d, want 4", checks.Load())
	}

	ch2 := res.Chapters[1]
	if !ch2.Regenerated || ch2.ContinuityPassed || len(ch2.Violations) == 0 {
		t.Errorf("chapter 2 = regenerated %v, passed %v, violations %v", ch2.Regenerated, ch2.ContinuityPassed, ch2.Violations)
	}
	if d.EditorialChecklist.CliffhangersResolved {
		t.Error("cliffhanger chapter failed its check but was marked resolved")
	}
}

func TestGenerateAllRegeneratesShortDraft(t *testing.T) {
	var drafts atomic.Int32
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		if req.Operation == OpDraft && drafts.Add(1) == 1 {
			return gateway.Completion{Text: storytest.ChapterText(100)}, nil
		}
		return cleanHandler(req)
	})

	res, err := newGen(client).GenerateAll(context.Background(), storytest.DNA())
	if err != nil {
		t.Fatal(err)
	}
	if res.Regenerations != 1 || res.ContinuityFailures != 0 {
		t.Errorf("regenerations=%d failures=%d, want 1/0", res.Regenerations, res.ContinuityFailures)
	}
	if got := client.CallsFor(OpDraft)[1].UserPrompt(); !strings.Contains(got, "minimum is 350") {
		t.Errorf("regeneration prompt lacks the word count problem:\n%s", got)
	}
	if res.Chapters[0].WordCount != 500 {
		t.Errorf("accepted chapter 1 has %d words", res.Chapters[0].WordCount)
	}
}

func TestGenerateAllFailsOpenOnCheckerError(t *testing.T) {
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		if req.Operation == OpContinuity {
			return gateway.Completion{Text: "looks fine to me"}, nil
		}
		return cleanHandler(req)
	})
	d := storytest.DNA()

	res, err := newGen(client).GenerateAll(context.Background(), d)
	if err != nil {
		t.Fatalf("GenerateAll() error = %v", err)
	}
	if res.CheckerErrors != 3 || res.Regenerations != 0 {
		t.Errorf("checker errors=%d regenerations=%d", res.CheckerErrors, res.Regenerations)
	}
	if d.EditorialChecklist.ContinuityChecked {
		t.Error("continuity marked checked although every check failed")
	}
}

func TestGenerateAllDraftFailureIsFatal(t *testing.T) {
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		if req.Operation == OpDraft && strings.Contains(req.UserPrompt(), "Write chapter 2 of 3") {
			return gateway.Completion{Text: "cut off mid", FinishReason: gateway.FinishLength}, nil
		}
		return cleanHandler(req)
	})

	_, err := newGen(client).GenerateAll(context.Background(), storytest.DNA())
	var stageErr *core.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "chapter_2" {
		t.Fatalf("error = %v, want chapter_2 StageError", err)
	}
	if !errors.Is(err, core.ErrTruncated) {
		t.Errorf("error = %v, want ErrTruncated", err)
	}
}

func TestGenerateAllKeepsFirstDraftWhenRedraftFails(t *testing.T) {
	tests := []struct {
		name      string
		redraft   func() (gateway.Completion, error)
		wantFatal error
	}{
		{
			name: "truncated redraft",
			redraft: func() (gateway.Completion, error) {
				return gateway.Completion{Text: "cut off mid", FinishReason: gateway.FinishLength}, nil
			},
		},
		{
			name: "server error on redraft",
			redraft: func() (gateway.Completion, error) {
				return gateway.Completion{}, &core.APIError{StatusCode: 503, Kind: core.ErrServerError}
			},
		},
		{
			name: "auth error on redraft",
			redraft: func() (gateway.Completion, error) {
				return gateway.Completion{}, &core.APIError{StatusCode: 401, Kind: core.ErrAuth}
			},
			wantFatal: core.ErrAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
				switch {
				case req.Operation == OpDraft && strings.Contains(req.UserPrompt(), "Leo is called she"):
					return tt.redraft()
				case req.Operation == OpDraft && strings.Contains(req.UserPrompt(), "Write chapter 2 of 3"):
					return gateway.Completion{Text: storytest.ChapterText(480)}, nil
				case req.Operation == OpContinuity && strings.Contains(req.UserPrompt(), "Chapter 2 draft"):
					return gateway.Completion{Text: `{"pass": false, "violations": ["Leo is called she"]}`}, nil
				}
				return cleanHandler(req)
			})

			res, err := newGen(client).GenerateAll(context.Background(), storytest.DNA())
			if tt.wantFatal != nil {
				var stageErr *core.StageError
				if !errors.Is(err, tt.wantFatal) || !errors.As(err, &stageErr) || stageErr.Stage != "chapter_2" {
					t.Fatalf("error = %v, want chapter_2 %v", err, tt.wantFatal)
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateAll() error = %v", err)
			}

			if res.Regenerations != 1 || res.RegenerationFailures != 1 {
				t.Errorf("regenerations=%d failed=%d, want 1/1", res.Regenerations, res.RegenerationFailures)
			}
			if len(res.Chapters) != 3 {
				t.Fatalf("chapters = %d, want 3", len(res.Chapters))
			}
			ch2 := res.Chapters[1]
			if ch2.WordCount != 480 || ch2.Regenerated || ch2.ContinuityPassed {
				t.Errorf("chapter 2 = words %d, regenerated %v, passed %v; want first draft kept", ch2.WordCount, ch2.Regenerated, ch2.ContinuityPassed)
			}
			if len(ch2.Violations) == 0 || ch2.Violations[0] != "Leo is called she" {
				t.Errorf("violations = %v, want the first draft's problems", ch2.Violations)
			}
		})
	}
}

func TestGenerateAllAuthErrorFromChecker(t *testing.T) {
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		if req.Operation == OpContinuity {
			return gateway.Completion{}, &core.APIError{StatusCode: 403, Kind: core.ErrAuth}
		}
		return cleanHandler(req)
	})

	_, err := newGen(client).GenerateAll(context.Background(), storytest.DNA())
	if !errors.Is(err, core.ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
}

func TestCheckComplete(t *testing.T) {
	chapters := func(nums ...int) []story.Chapter {
		out := make([]story.Chapter, len(nums))
		for i, n := range nums {
			out[i] = story.Chapter{Number: n}
		}
		return out
	}
	tests := []struct {
		name     string
		chapters []story.Chapter
		wantErr  bool
	}{
		{"complete", chapters(1, 2, 3), false},
		{"gap", chapters(1, 3), true},
		{"missing last", chapters(1, 2), true},
		{"duplicate", chapters(1, 1, 2), true},
		{"out of range", chapters(1, 2, 3, 4), true},
		{"empty", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckComplete(tt.chapters, 3)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckComplete() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, core.ErrMissingChapter) {
				t.Errorf("error %v is not ErrMissingChapter", err)
			}
		})
	}
}
