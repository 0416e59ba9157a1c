package gateway

import (
	"context"
	"fmt"

	"github.com/vampirenirmal/storyforge/internal/core"
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Finish reasons, normalised across providers.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call. Model empty means the client default.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	JSON        bool
	// Operation names the call in logs, e.g. "dna_foundation".
	Operation string
}

// Completion is the text returned by the service and why it stopped.
type Completion struct {
	Text         string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Truncated reports whether the service stopped on a length limit.
func (c Completion) Truncated() bool {
	return c.FinishReason == FinishLength
}

// UserPrompt returns the content of the first user message.
func (r Request) UserPrompt() string {
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// SystemPrompt returns the content of the first system message.
func (r Request) SystemPrompt() string {
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	CompleteStructured(ctx context.Context, req Request) (Completion, error)
}

// NewRequest builds a system + user request.
func NewRequest(operation, system, user string) Request {
	req := Request{Operation: operation}
	if system != "" {
		req.Messages = append(req.Messages, Message{Role: RoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, Message{Role: RoleUser, Content: user})
	return req
}

// DecodeJSON makes a structured call and decodes the response into target.
// A truncated response is a hard failure.
func DecodeJSON(ctx context.Context, c Completer, req Request, target interface{}) error {
	req.JSON = true
	completion, err := c.CompleteStructured(ctx, req)
	if err != nil {
		return err
	}
	if completion.Truncated() {
		return fmt.Errorf("%s: %w", req.Operation, core.ErrTruncated)
	}
	if err := core.ParseJSONResponse(completion.Text, target); err != nil {
		return fmt.Errorf("%s: %w", req.Operation, err)
	}
	return nil
}
