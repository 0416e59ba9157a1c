package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vampirenirmal/storyforge/internal/core"
)

const (
	apiOpenAI    = "openai"
	apiAnthropic = "anthropic"

	jsonInstruction = "IMPORTANT: You MUST respond with valid JSON only. Your entire response must be a single JSON object with no additional text, markdown, or explanations."
)

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	limiter    *rate.Limiter
	apiType    string
	logger     *slog.Logger
}

type Option func(*Client)

// WithRetry sets the total number of attempts per call.
func WithRetry(maxRetries int) Option {
	return func(c *Client) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
	}
}

// WithBackoff sets the base and cap of the exponential backoff.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = max
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithRateLimit(requestsPerMinute int, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithAPIConfig(baseURL, model string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
		c.model = model
		if strings.Contains(baseURL, "anthropic") {
			c.apiType = apiAnthropic
		} else {
			c.apiType = apiOpenAI
		}
	}
}

func WithMaxTokens(maxTokens int) Option {
	return func(c *Client) {
		c.maxTokens = maxTokens
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With("component", "completion_gateway")
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		model:   "gpt-4o-mini",
		httpClient: &http.Client{
			Timeout:   120 * time.Second,
			Transport: transport,
		},
		maxTokens:  4096,
		maxRetries: 3,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		apiType:    apiOpenAI,
		logger:     slog.Default().With("component", "completion_gateway"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("completion gateway initialized",
		"api_type", c.apiType,
		"base_url", c.baseURL,
		"model", c.model,
		"max_retries", c.maxRetries,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))

	return c
}

// Complete returns the response text. Truncation is not an error here.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	completion, err := c.CompleteStructured(ctx, req)
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

// CompleteStructured returns the text and finish reason, retrying transient
// failures with exponential backoff. Authentication errors are returned
// immediately.
func (c *Client) CompleteStructured(ctx context.Context, req Request) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, core.ErrNoAPIKey
	}

	requestID := fmt.Sprintf("api_%d", time.Now().UnixNano())
	startTime := time.Now()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.logger.Debug("retry backoff",
				"request_id", requestID,
				"attempt", attempt,
				"backoff_ms", backoff.Milliseconds())

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.logger.Warn("request cancelled during backoff",
					"request_id", requestID,
					"attempt", attempt)
				return Completion{}, fmt.Errorf("%w: %w", core.ErrTimeout, ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return Completion{}, fmt.Errorf("rate limit wait failed: %w", err)
		}

		attemptStart := time.Now()
		c.logger.Debug("attempting completion request",
			"request_id", requestID,
			"attempt", attempt,
			"operation", req.Operation,
			"message_count", len(req.Messages),
			"force_json", req.JSON,
			"api_type", c.apiType)

		completion, err := c.doRequest(ctx, req)
		if err == nil {
			UsageFrom(ctx).Add(completion.InputTokens, completion.OutputTokens)
			c.logger.Info("completion request successful",
				"request_id", requestID,
				"operation", req.Operation,
				"attempt", attempt,
				"duration_ms", time.Since(attemptStart).Milliseconds(),
				"finish_reason", completion.FinishReason,
				"input_tokens", completion.InputTokens,
				"output_tokens", completion.OutputTokens,
				"response_length", len(completion.Text))
			return completion, nil
		}

		lastErr = err
		if !core.IsRetryable(err) {
			c.logger.Error("completion request failed with non-retryable error",
				"request_id", requestID,
				"operation", req.Operation,
				"attempt", attempt,
				"error", err)
			return Completion{}, err
		}

		c.logger.Warn("completion request failed, will retry",
			"request_id", requestID,
			"operation", req.Operation,
			"attempt", attempt,
			"duration_ms", time.Since(attemptStart).Milliseconds(),
			"error", err)
	}

	c.logger.Error("completion request failed after max retries",
		"request_id", requestID,
		"operation", req.Operation,
		"max_retries", c.maxRetries,
		"total_duration_ms", time.Since(startTime).Milliseconds(),
		"last_error", lastErr)

	return Completion{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// backoff returns base * 2^attempt, capped at maxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func (c *Client) doRequest(ctx context.Context, req Request) (Completion, error) {
	if c.apiType == apiAnthropic {
		return c.doAnthropicRequest(ctx, req)
	}
	return c.doOpenAIRequest(ctx, req)
}

func (c *Client) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

func (c *Client) maxTokensFor(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return c.maxTokens
}

func (c *Client) doOpenAIRequest(ctx context.Context, req Request) (Completion, error) {
	messages := make([]map[string]string, 0, len(req.Messages)+1)
	hasSystem := false
	for _, m := range req.Messages {
		content := m.Content
		if m.Role == RoleSystem {
			hasSystem = true
			if req.JSON {
				content += "\n\n" + jsonInstruction
			}
		}
		messages = append(messages, map[string]string{"role": string(m.Role), "content": content})
	}
	if req.JSON && !hasSystem {
		messages = append([]map[string]string{{"role": string(RoleSystem), "content": jsonInstruction}}, messages...)
	}

	requestBody := map[string]interface{}{
		"model":       c.modelFor(req),
		"messages":    messages,
		"max_tokens":  c.maxTokensFor(req),
		"temperature": req.Temperature,
	}
	if req.JSON {
		requestBody["response_format"] = map[string]string{"type": "json_object"}
	}

	respBody, err := c.post(ctx, "/chat/completions", requestBody, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	})
	if err != nil {
		return Completion{}, err
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return Completion{}, fmt.Errorf("parsing response: %w", core.ErrMalformedOutput)
	}
	if len(response.Choices) == 0 {
		return Completion{}, fmt.Errorf("no choices in response: %w", core.ErrMalformedOutput)
	}

	finish := FinishStop
	if response.Choices[0].FinishReason == "length" {
		finish = FinishLength
	}

	return Completion{
		Text:         response.Choices[0].Message.Content,
		FinishReason: finish,
		InputTokens:  response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
	}, nil
}

func (c *Client) doAnthropicRequest(ctx context.Context, req Request) (Completion, error) {
	var system []string
	var messages []map[string]string
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	if req.JSON {
		system = append(system, jsonInstruction)
	}

	requestBody := map[string]interface{}{
		"model":       c.modelFor(req),
		"messages":    messages,
		"max_tokens":  c.maxTokensFor(req),
		"temperature": req.Temperature,
	}
	if len(system) > 0 {
		requestBody["system"] = strings.Join(system, "\n\n")
	}

	respBody, err := c.post(ctx, "/messages", requestBody, func(r *http.Request) {
		r.Header.Set("x-api-key", c.apiKey)
		r.Header.Set("anthropic-version", "2023-06-01")
	})
	if err != nil {
		return Completion{}, err
	}

	var response struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return Completion{}, fmt.Errorf("parsing response: %w", core.ErrMalformedOutput)
	}
	if len(response.Content) == 0 {
		return Completion{}, fmt.Errorf("no content in response: %w", core.ErrMalformedOutput)
	}

	finish := FinishStop
	if response.StopReason == "max_tokens" {
		finish = FinishLength
	}

	return Completion{
		Text:         response.Content[0].Text,
		FinishReason: finish,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload interface{}, auth func(*http.Request)) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	auth(httpReq)

	httpStart := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", core.ErrNetworkError)
	}

	c.logger.Debug("HTTP response received",
		"endpoint", endpoint,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(httpStart).Milliseconds(),
		"body_size", len(respBody))

	if resp.StatusCode != http.StatusOK {
		return nil, &core.APIError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 500),
			Kind:       core.ClassifyStatus(resp.StatusCode),
		}
	}

	return respBody, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request cancelled: %w", err)
	}
	return fmt.Errorf("%w: %v", core.ErrNetworkError, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
