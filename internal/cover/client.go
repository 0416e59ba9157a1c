// Package cover requests cover art from an asynchronous image service and
// falls back to a per-genre default when anything goes wrong.
package cover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vampirenirmal/storyforge/internal/prompts"
	"github.com/vampirenirmal/storyforge/internal/story"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPolls     = 24
)

// Job states reported by the service.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var (
	ErrJobFailed   = errors.New("cover job failed")
	ErrPollTimeout = errors.New("cover job did not finish in time")
	ErrDisabled    = errors.New("cover service not configured")
)

// Fallback returns the default asset for a genre.
func Fallback(genre string) string {
	slug := strings.ToLower(strings.Join(strings.Fields(genre), "-"))
	if slug == "" {
		slug = "story"
	}
	return "covers/default-" + slug + ".png"
}

// Result is where the cover came from.
type Result struct {
	URL      string `json:"url"`
	JobID    string `json:"job_id,omitempty"`
	Fallback bool   `json:"fallback"`
	Error    string `json:"error,omitempty"`
}

type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	prompts      *prompts.Library
	logger       *slog.Logger
}

type Option func(*Client)

func WithPolling(interval time.Duration, maxPolls int) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if maxPolls > 0 {
			c.maxPolls = maxPolls
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With("component", "cover")
	}
}

// NewClient returns a client for the service at baseURL. An empty baseURL
// disables requests and every call returns the fallback.
func NewClient(baseURL, apiKey string, lib *prompts.Library, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: DefaultPollInterval,
		maxPolls:     DefaultMaxPolls,
		prompts:      lib,
		logger:       slog.Default().With("component", "cover"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type coverInput struct {
	Title    string
	Genre    string
	AgeRange string
	Setting  string
}

// Generate requests a cover for d. It never fails: any error yields the
// genre fallback, recorded in the result.
func (c *Client) Generate(ctx context.Context, d *story.DNA) Result {
	start := time.Now()
	res, err := c.generate(ctx, d)
	if err != nil {
		c.logger.Warn("cover generation failed, using fallback",
			"story_id", d.StoryID,
			"genre", d.Meta.Genre,
			"error", err)
		return Result{URL: Fallback(d.Meta.Genre), JobID: res.JobID, Fallback: true, Error: err.Error()}
	}
	c.logger.Info("cover generated",
		"story_id", d.StoryID,
		"job_id", res.JobID,
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

func (c *Client) generate(ctx context.Context, d *story.DNA) (Result, error) {
	if c.baseURL == "" {
		return Result{}, ErrDisabled
	}
	prompt, err := c.prompts.Render(prompts.Cover, coverInput{
		Title:    d.Meta.Title,
		Genre:    d.Meta.Genre,
		AgeRange: d.Meta.AgeRange,
		Setting:  d.WorldBible.Setting,
	})
	if err != nil {
		return Result{}, err
	}

	id, err := c.create(ctx, prompt)
	if err != nil {
		return Result{}, err
	}
	if err := c.wait(ctx, id); err != nil {
		return Result{JobID: id}, err
	}
	url, err := c.result(ctx, id)
	if err != nil {
		return Result{JobID: id}, err
	}
	return Result{URL: url, JobID: id}, nil
}

type createRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	URL    string `json:"url,omitempty"`
}

func (c *Client) create(ctx context.Context, prompt string) (string, error) {
	var job jobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", createRequest{Prompt: prompt, Size: "1024x1536"}, &job); err != nil {
		return "", fmt.Errorf("creating cover job: %w", err)
	}
	if job.ID == "" {
		return "", errors.New("creating cover job: no job id returned")
	}
	return job.ID, nil
}

// wait polls the job at a fixed interval until it finishes or the poll
// budget runs out.
func (c *Client) wait(ctx context.Context, id string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for poll := 1; poll <= c.maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var job jobResponse
		if err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil, &job); err != nil {
			return fmt.Errorf("polling cover job %s: %w", id, err)
		}
		switch job.Status {
		case StatusSucceeded:
			return nil
		case StatusFailed:
			return fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
		}
		c.logger.Debug("cover job pending", "job_id", id, "poll", poll, "status", job.Status)
	}
	return fmt.Errorf("%w after %d polls", ErrPollTimeout, c.maxPolls)
}

func (c *Client) result(ctx context.Context, id string) (string, error) {
	var job jobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+id+"/result", nil, &job); err != nil {
		return "", fmt.Errorf("fetching cover result %s: %w", id, err)
	}
	if job.URL == "" {
		return "", fmt.Errorf("cover job %s returned no url", id)
	}
	return job.URL, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, target interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, target)
}
