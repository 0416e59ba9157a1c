package qa

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/vampirenirmal/storyforge/internal/core"
	"github.com/vampirenirmal/storyforge/internal/gateway"
	"github.com/vampirenirmal/storyforge/internal/prompts"
	"github.com/vampirenirmal/storyforge/internal/story"
	"github.com/vampirenirmal/storyforge/internal/story/storytest"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		quality int
		safe    bool
		values  float64
		want    story.Status
	}{
		{"unsafe beats everything", 100, false, 5, story.StatusRejected},
		{"low quality", 60, true, 4.5, story.StatusRejected},
		{"approved", 90, true, 4.0, story.StatusApproved},
		{"middling", 80, true, 2.5, story.StatusEditorQueue},
		{"high quality weak values", 95, true, 2.9, story.StatusEditorQueue},
		{"approve boundary", 85, true, 3.0, story.StatusApproved},
		{"reject boundary", 70, true, 5, story.StatusEditorQueue},
		{"just under reject", 69, true, 5, story.StatusRejected},
		{"values just under bar", 90, true, 2.99, story.StatusEditorQueue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.quality, tt.safe, tt.values); got != tt.want {
				t.Errorf("Decide(%d, %v, %.1f) = %s, want %s", tt.quality, tt.safe, tt.values, got, tt.want)
			}
		})
	}
}

func TestQualityScoreClampsSubScores(t *testing.T) {
	q := QualityScore{
		NarrativeCoherence:   40,
		CharacterConsistency: 20,
		AgeAppropriateness:   -5,
		Engagement:           19.6,
		TechnicalQuality:     100,
	}
	q.normalize()
	if q.NarrativeCoherence != 25 || q.AgeAppropriateness != 0 || q.TechnicalQuality != 15 {
		t.Errorf("clamped = %+v", q)
	}
	if q.Total != 79 {
		t.Errorf("total = %d, want 79", q.Total)
	}
}

func TestSafetyAnyIssueFails(t *testing.T) {
	tests := []struct {
		name string
		in   SafetyResult
		want bool
	}{
		{"clean", SafetyResult{Passed: true}, true},
		{"issue despite pass", SafetyResult{Passed: true, Issues: []SafetyIssue{{Criterion: "horror"}}}, false},
		{"reported fail", SafetyResult{Passed: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.normalize()
			if tt.in.Passed != tt.want {
				t.Errorf("passed = %v, want %v", tt.in.Passed, tt.want)
			}
		})
	}
}

func TestValuesAverage(t *testing.T) {
	v := ValuesResult{RoleModels: 4, ConsequenceLogic: 4, ConflictResolution: 3, AuthorityRespect: 4, VirtueIntegration: 3, HopefulEnding: 3.6}
	v.normalize()
	if v.Average != 3.6 {
		t.Errorf("average = %v, want 3.6", v.Average)
	}

	v = ValuesResult{RoleModels: 9, HopefulEnding: -1}
	v.normalize()
	if v.RoleModels != 5 || v.HopefulEnding != 1 || v.Average != 1.66 {
		t.Errorf("clamped = %+v", v)
	}
}

func TestFractionalScoresNeverCrossThresholds(t *testing.T) {
	tests := []struct {
		name   string
		q      QualityScore
		values ValuesResult
		total  int
		want   story.Status
	}{
		{
			name:   "84.6 stays below approve",
			q:      QualityScore{NarrativeCoherence: 22.5, CharacterConsistency: 18, AgeAppropriateness: 17, Engagement: 16, TechnicalQuality: 11.1},
			values: ValuesResult{RoleModels: 3, ConsequenceLogic: 3, ConflictResolution: 3, AuthorityRespect: 3, VirtueIntegration: 3, HopefulEnding: 3},
			total:  84,
			want:   story.StatusEditorQueue,
		},
		{
			name:   "69.5 stays below reject",
			q:      QualityScore{NarrativeCoherence: 20, CharacterConsistency: 15, AgeAppropriateness: 15, Engagement: 10, TechnicalQuality: 9.5},
			values: ValuesResult{RoleModels: 5, ConsequenceLogic: 5, ConflictResolution: 5, AuthorityRespect: 5, VirtueIntegration: 5, HopefulEnding: 5},
			total:  69,
			want:   story.StatusRejected,
		},
		{
			name:   "values 2.995 stays below the bar",
			q:      QualityScore{NarrativeCoherence: 25, CharacterConsistency: 20, AgeAppropriateness: 20, Engagement: 20, TechnicalQuality: 15},
			values: ValuesResult{RoleModels: 3, ConsequenceLogic: 3, ConflictResolution: 3, AuthorityRespect: 3, VirtueIntegration: 2.97, HopefulEnding: 3},
			total:  100,
			want:   story.StatusEditorQueue,
		},
		{
			name:   "decimal sum exactly at approve",
			q:      QualityScore{NarrativeCoherence: 22.1, CharacterConsistency: 17.2, AgeAppropriateness: 18.3, Engagement: 16.3, TechnicalQuality: 11.1},
			values: ValuesResult{RoleModels: 3, ConsequenceLogic: 3, ConflictResolution: 3, AuthorityRespect: 3, VirtueIntegration: 3, HopefulEnding: 3},
			total:  85,
			want:   story.StatusApproved,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.q.normalize()
			tt.values.normalize()
			if tt.q.Total != tt.total {
				t.Errorf("total = %d, want %d", tt.q.Total, tt.total)
			}
			if got := Decide(tt.q.Total, true, tt.values.Average); got != tt.want {
				t.Errorf("Decide(%d, %.2f) = %s, want %s", tt.q.Total, tt.values.Average, got, tt.want)
			}
		})
	}
}

func TestCriteriaByLevel(t *testing.T) {
	hasDeath := func(level story.ReadingLevel) bool {
		for _, c := range Criteria(level) {
			if strings.Contains(c, "death") {
				return true
			}
		}
		return false
	}
	if !hasDeath(story.LevelEarly) || hasDeath(story.LevelAdvanced) {
		t.Error("death criterion should apply to younger levels only")
	}
}

func scorer(quality, safety, values string) func(gateway.Request) (gateway.Completion, error) {
	return func(req gateway.Request) (gateway.Completion, error) {
		switch req.Operation {
		case OpQuality:
			return gateway.Completion{Text: quality}, nil
		case OpSafety:
			return gateway.Completion{Text: safety}, nil
		case OpValues:
			return gateway.Completion{Text: values}, nil
		}
		return gateway.Completion{}, errors.New("unexpected operation")
	}
}

const (
	quality88  = `{"narrative_coherence": 22, "character_consistency": 18, "age_appropriateness": 19, "engagement": 16, "technical_quality": 13}`
	safeJSON   = `{"passed": true, "issues": []}`
	values36   = `{"role_models": 4, "consequence_logic": 4, "conflict_resolution": 3, "authority_respect": 4, "virtue_integration": 3, "hopeful_ending": 3.6}`
	unsafeJSON = `{"passed": true, "issues": [{"criterion": "horror or intense fear", "description": "the monster scene"}]}`
)

func TestEvaluateApproves(t *testing.T) {
	client := gateway.NewMockClient(scorer(quality88, safeJSON, values36))
	gate := New(client, prompts.NewLibrary(""), WithModel("judge"))

	a, err := gate.Evaluate(context.Background(), "Mia ran up the hill.", storytest.Brief())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if a.Quality.Total != 88 || !a.Safety.Passed || a.Values.Average != 3.6 {
		t.Errorf("assessment = %+v", a)
	}
	if a.Status != story.StatusApproved {
		t.Errorf("status = %s, want approved", a.Status)
	}

	safety := client.CallsFor(OpSafety)[0]
	if safety.Model != "judge" || !strings.Contains(safety.UserPrompt(), "death of a main character") {
		t.Error("safety prompt missing model or level criteria")
	}
	if !strings.Contains(client.CallsFor(OpValues)[0].UserPrompt(), `"courage"`) {
		t.Error("values prompt does not name the virtue")
	}
}

func TestEvaluateRejectsUnsafe(t *testing.T) {
	client := gateway.NewMockClient(scorer(quality88, unsafeJSON, values36))
	a, err := New(client, prompts.NewLibrary("")).Evaluate(context.Background(), "text", storytest.Brief())
	if err != nil {
		t.Fatal(err)
	}
	if a.Safety.Passed || a.Status != story.StatusRejected {
		t.Errorf("unsafe story = %+v", a)
	}
}

func TestEvaluateCustomThresholds(t *testing.T) {
	client := gateway.NewMockClient(scorer(quality88, safeJSON, values36))
	gate := New(client, prompts.NewLibrary(""), WithThresholds(Thresholds{Approve: 90, Reject: 50, Values: 3}))
	a, err := gate.Evaluate(context.Background(), "text", storytest.Brief())
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != story.StatusEditorQueue {
		t.Errorf("status = %s, want editor_queue", a.Status)
	}
}

func TestScorerRetriesMalformedOutput(t *testing.T) {
	var calls atomic.Int32
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		if calls.Add(1) == 1 {
			return gateway.Completion{Text: "Great story, I'd give it an 88."}, nil
		}
		return gateway.Completion{Text: quality88}, nil
	})

	q, err := New(client, prompts.NewLibrary("")).ScoreQuality(context.Background(), "text", storytest.Brief())
	if err != nil {
		t.Fatalf("ScoreQuality() error = %v", err)
	}
	if q.Total != 88 || calls.Load() != 2 {
		t.Errorf("total=%d calls=%d", q.Total, calls.Load())
	}
}

func TestScorerGivesUp(t *testing.T) {
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		return gateway.Completion{Text: "no json here"}, nil
	})

	_, err := New(client, prompts.NewLibrary(""), WithAttempts(3)).CheckSafety(context.Background(), "text", storytest.Brief())
	var stageErr *core.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != OpSafety || stageErr.Attempt != 3 {
		t.Fatalf("error = %v, want qa_safety StageError after 3 attempts", err)
	}
	if n := len(client.Calls()); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestScorerDoesNotRetryTransportErrors(t *testing.T) {
	client := gateway.NewMockClient(func(req gateway.Request) (gateway.Completion, error) {
		return gateway.Completion{}, core.ErrServerError
	})

	_, err := New(client, prompts.NewLibrary("")).ScoreValues(context.Background(), "text", storytest.Brief())
	if !errors.Is(err, core.ErrServerError) {
		t.Fatalf("error = %v", err)
	}
	if n := len(client.Calls()); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}
