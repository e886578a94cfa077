package toolcall

import (
	"context"
	"log/slog"
	"time"
)

// Attempt describes one dispatch of a tool call. Delay is the wait scheduled
// before the next attempt, zero when none follows.
type Attempt struct {
	Tool        string
	Attempt     int
	MaxAttempts int
	Class       Class
	Delay       time.Duration
	Elapsed     time.Duration
	Err         error
}

type Observer interface {
	Observe(ctx context.Context, a Attempt)
}

type ObserverFunc func(ctx context.Context, a Attempt)

func (f ObserverFunc) Observe(ctx context.Context, a Attempt) { f(ctx, a) }

// LogObserver writes successes at debug level and failures at warn.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) Observe(ctx context.Context, a Attempt) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if a.Err == nil {
		logger.DebugContext(ctx, "tool call ok",
			"tool", a.Tool,
			"attempt", a.Attempt,
			"elapsed_ms", a.Elapsed.Milliseconds())
		return
	}
	logger.WarnContext(ctx, "tool call failed",
		"tool", a.Tool,
		"attempt", a.Attempt,
		"max_attempts", a.MaxAttempts,
		"class", a.Class.String(),
		"backoff_ms", a.Delay.Milliseconds(),
		"elapsed_ms", a.Elapsed.Milliseconds(),
		"error", a.Err)
}

// Observers fans an attempt out to several observers in order.
type Observers []Observer

func (obs Observers) Observe(ctx context.Context, a Attempt) {
	for _, o := range obs {
		if o != nil {
			o.Observe(ctx, a)
		}
	}
}
