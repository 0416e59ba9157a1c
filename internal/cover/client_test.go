package cover

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vampirenirmal/storyforge/internal/prompts"
	"github.com/vampirenirmal/storyforge/internal/story/storytest"
)

// fakeService finishes a job after pendingPolls polls, or fails it.
func fakeService(t *testing.T, pendingPolls int32, fail bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer cover-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			var body createRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !strings.Contains(body.Prompt, storytest.Title) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(jobResponse{ID: "job-1", Status: StatusPending})
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-1":
			n := polls.Add(1)
			status := StatusRunning
			if n > pendingPolls {
				status = StatusSucceeded
				if fail {
					status = StatusFailed
				}
			}
			json.NewEncoder(w).Encode(jobResponse{ID: "job-1", Status: status, Error: "nsfw filter"})
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-1/result":
			json.NewEncoder(w).Encode(jobResponse{ID: "job-1", URL: "https://img.example/job-1.png"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newTestClient(baseURL string, maxPolls int) *Client {
	return NewClient(baseURL, "cover-key", prompts.NewLibrary(""), WithPolling(time.Millisecond, maxPolls))
}

func TestGenerateSucceeds(t *testing.T) {
	srv, polls := fakeService(t, 2, false)

	res := newTestClient(srv.URL, 5).Generate(context.Background(), storytest.DNA())
	if res.Fallback || res.URL != "https://img.example/job-1.png" || res.JobID != "job-1" {
		t.Errorf("result = %+v", res)
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", polls.Load())
	}
}

func TestGenerateFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		pending  int32
		fail     bool
		maxPolls int
		wantErr  string
	}{
		{"job failed", 0, true, 5, "nsfw filter"},
		{"poll budget exhausted", 10, false, 3, "did not finish"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, polls := fakeService(t, tt.pending, tt.fail)
			res := newTestClient(srv.URL, tt.maxPolls).Generate(context.Background(), storytest.DNA())

			if !res.Fallback || res.URL != "covers/default-adventure.png" {
				t.Errorf("result = %+v", res)
			}
			if !strings.Contains(res.Error, tt.wantErr) {
				t.Errorf("error = %q, want containing %q", res.Error, tt.wantErr)
			}
			if int(polls.Load()) > tt.maxPolls {
				t.Errorf("polled %d times, budget %d", polls.Load(), tt.maxPolls)
			}
		})
	}
}

func TestGenerateUnauthorizedFallsBack(t *testing.T) {
	srv, _ := fakeService(t, 0, false)
	c := NewClient(srv.URL, "wrong", prompts.NewLibrary(""), WithPolling(time.Millisecond, 2))

	res := c.Generate(context.Background(), storytest.DNA())
	if !res.Fallback || !strings.Contains(res.Error, "status 401") {
		t.Errorf("result = %+v", res)
	}
}

func TestGenerateDisabled(t *testing.T) {
	res := NewClient("", "", prompts.NewLibrary("")).Generate(context.Background(), storytest.DNA())
	if !res.Fallback || res.URL != "covers/default-adventure.png" {
		t.Errorf("result = %+v", res)
	}
}

func TestFallback(t *testing.T) {
	tests := map[string]string{
		"adventure":       "covers/default-adventure.png",
		"Science Fiction": "covers/default-science-fiction.png",
		"":                "covers/default-story.png",
	}
	for genre, want := range tests {
		if got := Fallback(genre); got != want {
			t.Errorf("Fallback(%q) = %q, want %q", genre, got, want)
		}
	}
}
