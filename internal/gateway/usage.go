package gateway

import (
	"context"
	"sync/atomic"
)

// Usage accumulates token counts for one pipeline run. It travels in the
// run's context rather than living in process-wide state.
type Usage struct {
	input  atomic.Int64
	output atomic.Int64
	calls  atomic.Int64
}

type UsageSnapshot struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Calls        int64 `json:"calls"`
}

func (u *Usage) Add(input, output int) {
	if u == nil {
		return
	}
	u.input.Add(int64(input))
	u.output.Add(int64(output))
	u.calls.Add(1)
}

func (u *Usage) Snapshot() UsageSnapshot {
	if u == nil {
		return UsageSnapshot{}
	}
	return UsageSnapshot{
		InputTokens:  u.input.Load(),
		OutputTokens: u.output.Load(),
		Calls:        u.calls.Load(),
	}
}

func (u *Usage) Reset() {
	if u == nil {
		return
	}
	u.input.Store(0)
	u.output.Store(0)
	u.calls.Store(0)
}

type usageKey struct{}

// WithUsage attaches a counter to ctx.
func WithUsage(ctx context.Context, u *Usage) context.Context {
	return context.WithValue(ctx, usageKey{}, u)
}

// UsageFrom returns the counter attached to ctx, or nil. A nil *Usage is safe
// to call.
func UsageFrom(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}
