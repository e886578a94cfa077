// Package toolcall invokes named operations on the browser automation
// capability with bounded retry, exponential backoff and transient versus
// permanent classification.
package toolcall

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adityalohuni/dashport/internal/failure"
)

// Caller is the minimal contract of an automation backend: a named tool with
// a parameter map, answering with a text payload or an error.
type Caller interface {
	CallTool(ctx context.Context, name string, params map[string]any) (string, error)
}

type CallerFunc func(ctx context.Context, name string, params map[string]any) (string, error)

func (f CallerFunc) CallTool(ctx context.Context, name string, params map[string]any) (string, error) {
	return f(ctx, name, params)
}

type Request struct {
	Name   string
	Params map[string]any
}

type Result struct {
	Tool     string
	Payload  string
	Attempts int
	Elapsed  time.Duration
}

type Options struct {
	Policy   RetryPolicy
	Observer Observer
	Logger   *slog.Logger
	// Sleep waits d or until ctx is done. Tests replace it to record delays.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type Client struct {
	caller Caller
	opts   Options
}

func New(caller Caller, opts Options) *Client {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = LogObserver{Logger: opts.Logger}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{caller: caller, opts: opts}
}

// Policy returns the client's default retry policy.
func (c *Client) Policy() RetryPolicy { return c.opts.Policy }

// Call invokes name with the client's default policy.
func (c *Client) Call(ctx context.Context, name string, params map[string]any) (Result, error) {
	return c.Invoke(ctx, name, params, c.opts.Policy)
}

// Do is Call for a prepared Request.
func (c *Client) Do(ctx context.Context, req Request) (Result, error) {
	return c.Invoke(ctx, req.Name, req.Params, c.opts.Policy)
}

// Invoke calls name until it succeeds, fails permanently or policy runs out
// of attempts. The returned error carries a failure.Kind and wraps a
// *CallError.
func (c *Client) Invoke(ctx context.Context, name string, params map[string]any, policy RetryPolicy) (Result, error) {
	policy = policy.Normalize()
	res := Result{Tool: name}
	start := c.opts.Now()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		res.Attempts = attempt
		callStart := c.opts.Now()
		payload, err := c.caller.CallTool(ctx, name, params)
		ev := Attempt{
			Tool:        name,
			Attempt:     attempt,
			MaxAttempts: policy.MaxAttempts,
			Elapsed:     c.opts.Now().Sub(callStart),
			Err:         err,
		}
		if err == nil {
			c.opts.Observer.Observe(ctx, ev)
			res.Payload = payload
			res.Elapsed = c.opts.Now().Sub(start)
			return res, nil
		}

		lastErr = err
		ev.Class = Classify(err)
		if ctx.Err() != nil {
			ev.Class = Permanent
		}
		if ev.Class == Transient && attempt < policy.MaxAttempts {
			ev.Delay = policy.Delay(attempt)
		}
		c.opts.Observer.Observe(ctx, ev)

		if ev.Class == Permanent || attempt == policy.MaxAttempts {
			res.Elapsed = c.opts.Now().Sub(start)
			return res, c.fail(ctx, name, ev.Class, attempt, err)
		}
		if err := c.opts.Sleep(ctx, ev.Delay); err != nil {
			res.Elapsed = c.opts.Now().Sub(start)
			return res, failure.New(failure.KindTimeout, name, errors.Join(err, lastErr))
		}
	}
	res.Elapsed = c.opts.Now().Sub(start)
	return res, c.fail(ctx, name, Transient, res.Attempts, lastErr)
}

func (c *Client) fail(ctx context.Context, name string, class Class, attempts int, err error) error {
	ce := &CallError{Tool: name, Class: class, Attempts: attempts, Err: err}
	switch {
	case errors.Is(err, ErrUnavailable):
		return failure.New(failure.KindUnavailable, name, ce)
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return failure.New(failure.KindTimeout, name, ce)
	case class == Permanent:
		return failure.New(failure.KindToolPermanent, name, ce)
	default:
		return failure.New(failure.KindToolTransient, name, ce)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
