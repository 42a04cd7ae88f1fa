package workflow

import (
	"context"
	"slices"
	"time"
)

// Step is one unit of pipeline work.
type Step interface {
	Name() string
	Run(ctx context.Context, wc *Context) Result
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, wc *Context) Result
}

// Name implements Step.
func (s StepFunc) Name() string { return s.StepName }

// Run implements Step.
func (s StepFunc) Run(ctx context.Context, wc *Context) Result { return s.Fn(ctx, wc) }

// FailureAction says what happens when a step keeps asking for retries.
type FailureAction int

// Failure actions.
const (
	// RetryThenAbort retries up to MaxAttempts, then fails the workflow.
	RetryThenAbort FailureAction = iota
	// RetryThenSkip retries up to MaxAttempts, then skips the step.
	RetryThenSkip
	// AbortImmediately fails the workflow on the first retry request.
	AbortImmediately
	// SkipImmediately skips the step on the first retry request.
	SkipImmediately
)

func (a FailureAction) retries() bool {
	return a == RetryThenAbort || a == RetryThenSkip
}

func (a FailureAction) skips() bool {
	return a == RetryThenSkip || a == SkipImmediately
}

// StepSpec binds a step to its execution policy.
type StepSpec struct {
	Step Step

	// MaxAttempts includes the first attempt. Default: 1.
	MaxAttempts int

	// Backoff is the wait before the second attempt; it doubles after
	// each further attempt up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration

	OnFailure FailureAction

	// Channels restricts the step to the listed channels. Empty means all.
	Channels []Channel
}

func (s StepSpec) attempts() int {
	if !s.OnFailure.retries() {
		return 1
	}
	return max(s.MaxAttempts, 1)
}

func (s StepSpec) runsOn(ch Channel) bool {
	return len(s.Channels) == 0 || slices.Contains(s.Channels, ch)
}

// backoff returns the wait before attempt n (n >= 2).
func (s StepSpec) backoff(n int) time.Duration {
	if s.Backoff <= 0 || n < 2 {
		return 0
	}
	d := s.Backoff
	for i := 2; i < n; i++ {
		d *= 2
		if s.MaxBackoff > 0 && d >= s.MaxBackoff {
			return s.MaxBackoff
		}
	}
	if s.MaxBackoff > 0 {
		d = min(d, s.MaxBackoff)
	}
	return d
}
