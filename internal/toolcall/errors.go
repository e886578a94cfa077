package toolcall

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable marks a failure to reach the automation capability at all.
// Callers wrap it; Classify treats it as permanent.
var ErrUnavailable = errors.New("automation capability unavailable")

type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// permanentPatterns are lower-cased fragments of validation-type messages.
// Anything else (timeouts, resets, closed targets) is worth another attempt.
var permanentPatterns = []string{
	"invalid",
	"validation",
	"not initialized",
	"not initialised",
	"unknown tool",
	"tool not found",
	"required",
	"schema",
}

// Classify decides whether err is worth retrying.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.Canceled) {
		return Permanent
	}
	msg := strings.ToLower(err.Error())
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return Permanent
		}
	}
	return Transient
}

// CallError is the final failure of a tool invocation after retries.
type CallError struct {
	Tool     string
	Class    Class
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s failed (%s, %d attempt(s)): %v", e.Tool, e.Class, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ToolError is returned by callers when the capability answered but
// reported the call itself as failed.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}
