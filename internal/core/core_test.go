package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		terminal  bool
		malformed bool
	}{
		{"nil", nil, false, false, false},
		{"rate limited", ErrRateLimited, true, false, false},
		{"wrapped timeout", fmt.Errorf("calling model: %w", ErrTimeout), true, false, false},
		{"server error", &APIError{StatusCode: 503, Kind: ErrServerError}, true, false, false},
		{"auth", &APIError{StatusCode: 401, Kind: ErrAuth}, false, true, false},
		{"truncated", ErrTruncated, false, false, true},
		{"shape failure", NewValidationError("characters", "archetype", "unknown", "wizard"), false, false, true},
		{"chapter count", fmt.Errorf("stage chapters: %w", ErrChapterCount), false, false, true},
		{"missing chapter", ErrMissingChapter, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := IsTerminal(tt.err); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := IsMalformed(tt.err); got != tt.malformed {
				t.Errorf("IsMalformed() = %v, want %v", got, tt.malformed)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, ErrAuth},
		{403, ErrAuth},
		{408, ErrTimeout},
		{429, ErrRateLimited},
		{500, ErrServerError},
		{529, ErrServerError},
		{400, ErrInvalidInput},
	}

	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); !errors.Is(got, tt.want) {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	err := NewStageError("foundation", 9, ErrTruncated)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected StageError to unwrap to ErrTruncated")
	}
	var stageErr *StageError
	if !errors.As(fmt.Errorf("dna: %w", err), &stageErr) || stageErr.Stage != "foundation" {
		t.Fatalf("errors.As did not recover StageError: %v", err)
	}
}

func TestParseJSONResponse(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}

	tests := []struct {
		name     string
		response string
		want     payload
		wantErr  bool
	}{
		{"plain", `{"title":"A","count":1}`, payload{"A", 1}, false},
		{"fenced", "```json\n{\"title\":\"B\",\"count\":2}\n```", payload{"B", 2}, false},
		{"prose around", "Here you go:\n{\"title\":\"C\",\"count\":3}\nHope it helps", payload{"C", 3}, false},
		{"trailing comma", `{"title":"D","count":4,}`, payload{"D", 4}, false},
		{"brace in string", `note {"title":"E}","count":5} end`, payload{"E}", 5}, false},
		{"not json", "no json here", payload{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got payload
			err := ParseJSONResponse(tt.response, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseJSONResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedOutput) {
					t.Errorf("expected ErrMalformedOutput, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseJSONResponse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
