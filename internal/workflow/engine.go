// Package workflow runs a request through an explicit, ordered list of
// steps. Each step reports a data-level status (success, retry, skip or
// abort) and the engine applies the step's retry and failure policy.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/sgate/internal/telemetry"
)

// CancelChecker reports whether the request behind wc was canceled by a
// client. Errors are treated as "not canceled".
type CancelChecker func(ctx context.Context, wc *Context) (bool, error)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCancelChecker installs the cancellation check run before every step
// and every attempt.
func WithCancelChecker(fn CancelChecker) Option {
	return func(e *Engine) { e.canceled = fn }
}

// Engine executes pipelines. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	canceled CancelChecker
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Execute runs pipeline against wc in order.
func (e *Engine) Execute(ctx context.Context, wc *Context, pipeline []StepSpec) Outcome {
	out := Outcome{State: StateRunning, Steps: make([]StepRecord, 0, len(pipeline))}
	logger := telemetry.Logger(ctx, e.logger).With("request_id", wc.RequestID, "channel", string(wc.Channel))

	finish := func(state State, step string, err error) Outcome {
		out.State, out.Step, out.Err = state, step, err
		e.metrics.WorkflowFinished(state.String())
		if state != StateSucceeded {
			logger.Warn("workflow ended", "state", state.String(), "step", step, "error", err)
		}
		return out
	}

	for _, spec := range pipeline {
		name := spec.Step.Name()
		if !spec.runsOn(wc.Channel) {
			out.Steps = append(out.Steps, StepRecord{Name: name, Status: StatusSkip, Filtered: true})
			continue
		}
		if err := e.checkCanceled(ctx, wc); err != nil {
			return finish(StateAborted, name, err)
		}

		rec, err := e.runStep(ctx, wc, spec, logger)
		out.Steps = append(out.Steps, rec)
		switch {
		case errors.Is(err, ErrCanceled):
			return finish(StateAborted, name, err)
		case rec.Status == StatusAbort:
			return finish(StateAborted, name, err)
		case err != nil:
			return finish(StateFailed, name, err)
		}
	}
	return finish(StateSucceeded, "", nil)
}

// runStep drives the attempts of one step. A nil error with Status
// Success or Skip lets the pipeline continue.
func (e *Engine) runStep(ctx context.Context, wc *Context, spec StepSpec, logger *slog.Logger) (StepRecord, error) {
	name := spec.Step.Name()
	rec := StepRecord{Name: name}
	maxAttempts := spec.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.checkCanceled(ctx, wc); err != nil {
				rec.Err = err
				return rec, err
			}
			if err := e.sleep(ctx, spec.backoff(attempt)); err != nil {
				rec.Err = fmt.Errorf("%w: %w", ErrCanceled, err)
				return rec, rec.Err
			}
		}

		rec.Attempts = attempt
		res := e.attempt(ctx, wc, spec, attempt)
		rec.Status = res.Status

		// The caller went away mid-attempt.
		if err := ctx.Err(); err != nil {
			wc.discard()
			rec.Err = fmt.Errorf("%w: %w", ErrCanceled, err)
			return rec, rec.Err
		}

		switch res.Status {
		case StatusSuccess:
			wc.commit()
			return rec, nil
		case StatusSkip:
			wc.discard()
			rec.Err = res.Err
			logger.Debug("step skipped", "step", name, "error", res.Err)
			return rec, nil
		case StatusAbort:
			wc.discard()
			rec.Err = res.Err
			if rec.Err == nil {
				rec.Err = fmt.Errorf("workflow: step %q aborted", name)
			}
			return rec, rec.Err
		default:
			wc.discard()
			lastErr = res.Err
			if attempt < maxAttempts {
				logger.Warn("step retrying", "step", name, "attempt", attempt, "error", res.Err)
			}
		}
	}

	if spec.OnFailure.skips() {
		rec.Status = StatusSkip
		rec.Err = lastErr
		logger.Info("step skipped after retries", "step", name, "attempts", rec.Attempts, "error", lastErr)
		return rec, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no error reported")
	}
	rec.Err = fmt.Errorf("%w: step %q after %d attempts: %w", ErrRetriesExhausted, name, rec.Attempts, lastErr)
	return rec, rec.Err
}

// attempt runs a single attempt under its own deadline and span. A panic
// becomes an abort.
func (e *Engine) attempt(ctx context.Context, wc *Context, spec StepSpec, n int) (res Result) {
	name := spec.Step.Name()
	actx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	actx, span := telemetry.StartSpan(actx, "workflow.step",
		trace.WithAttributes(
			attribute.String("workflow.step", name),
			attribute.Int("workflow.attempt", n),
			attribute.String("workflow.channel", string(wc.Channel)),
			attribute.String("request.id", wc.RequestID),
		),
	)
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			res = Abort(fmt.Errorf("%w: %s: %v", ErrStepPanic, name, r))
		}
		span.SetAttributes(
			attribute.String("workflow.status", res.Status.String()),
			attribute.Bool("workflow.side_effect", res.SideEffect),
		)
		var spanErr error
		if res.Status == StatusAbort || res.Status == StatusRetry {
			spanErr = res.Err
		}
		telemetry.EndSpan(span, spanErr)
		e.metrics.StepAttempt(name, res.Status.String(), e.now().Sub(start))
	}()

	return spec.Step.Run(actx, wc)
}

func (e *Engine) checkCanceled(ctx context.Context, wc *Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	if e.canceled == nil {
		return nil
	}
	canceled, err := e.canceled(ctx, wc)
	if err != nil {
		e.logger.Warn("cancel check failed", "request_id", wc.RequestID, "error", err)
		return nil
	}
	if canceled {
		return ErrCanceled
	}
	return nil
}
