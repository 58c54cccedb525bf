package solver

import (
	"context"
	"time"
)

// budget enforces the wall-clock limit and caller cancellation.
type budget struct {
	ctx      context.Context
	start    time.Time
	deadline time.Time
}

func newBudget(ctx context.Context, maxSeconds float64) *budget {
	b := &budget{ctx: ctx, start: time.Now()}
	if maxSeconds > 0 {
		b.deadline = b.start.Add(time.Duration(maxSeconds * float64(time.Second)))
	}
	return b
}

// exceeded returns the stop reason, or "" while budget remains.
func (b *budget) exceeded() string {
	if b.ctx.Err() != nil {
		return StopCancelled
	}
	if !b.deadline.IsZero() && time.Now().After(b.deadline) {
		return StopSeconds
	}
	return ""
}

func (b *budget) elapsed() time.Duration { return time.Since(b.start) }
