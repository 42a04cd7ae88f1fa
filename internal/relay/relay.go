// Package relay serves one client request end to end: admission, quota
// checks, then a workflow pipeline that routes to an arm, calls the
// upstream, normalizes the result and, for internal callers, attaches
// diagnostics.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flemzord/sgate/internal/admission"
	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/security"
	"github.com/flemzord/sgate/internal/telemetry"
	"github.com/flemzord/sgate/internal/workflow"
)

// Config holds the request-path policy.
type Config struct {
	// QueueTimeout is how long a request may wait for an admission permit.
	QueueTimeout time.Duration `yaml:"queue_timeout"`

	// UpstreamTimeout bounds each upstream attempt. Default: 120s.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	// MaxAttempts is the number of arms tried per request. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff is the wait before the second attempt. Default: 100ms.
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// CancelPollInterval is the minimum gap between cancellation checks
	// while a stream is read. Default: 250ms.
	CancelPollInterval time.Duration `yaml:"cancel_poll_interval"`

	// Pricing maps arm ids to their cost per 1000 tokens.
	Pricing map[string]float64 `yaml:"-"`
}

func (c *Config) defaults() {
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = 120 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.CancelPollInterval <= 0 {
		c.CancelPollInterval = 250 * time.Millisecond
	}
}

// Deps are the collaborators a Relay drives.
type Deps struct {
	Admission *admission.Controller
	Router    *routing.Router
	Providers *provider.Registry
	// Quotas may hold the usage and budget ledgers; missing ledgers are
	// not enforced.
	Quotas  quota.Set
	Cancels *Cancels
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithAudit sets the audit logger receiving rejected and aborted requests.
func WithAudit(a *security.AuditLogger) Option {
	return func(r *Relay) { r.audit = a }
}

// WithRedactor sets the redactor applied to external responses.
func WithRedactor(red *security.Redactor) Option {
	return func(r *Relay) { r.redactor = red }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// Relay is safe for concurrent use; per-request state lives in the
// pipeline built for each call to Handle.
type Relay struct {
	deps     Deps
	cfg      Config
	engine   *workflow.Engine
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	audit    *security.AuditLogger
	redactor *security.Redactor
	now      func() time.Time
}

// New creates a relay.
func New(deps Deps, cfg Config, opts ...Option) *Relay {
	cfg.defaults()
	r := &Relay{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	engineOpts := []workflow.Option{
		workflow.WithLogger(r.logger),
		workflow.WithMetrics(r.metrics),
	}
	if deps.Cancels != nil {
		engineOpts = append(engineOpts, workflow.WithCancelChecker(deps.Cancels.Checker()))
	}
	r.engine = workflow.NewEngine(engineOpts...)
	return r
}

func (r *Relay) ledger(name string) *quota.Ledger {
	l, err := r.deps.Quotas.Get(name)
	if err != nil {
		return nil
	}
	return l
}

// Handle serves req. The returned error classifies with Code.
func (r *Relay) Handle(ctx context.Context, req Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	permit, err := r.deps.Admission.Acquire(ctx, r.cfg.QueueTimeout)
	if err != nil {
		r.rejected(ctx, req, err)
		return nil, err
	}
	defer permit.Release()

	if l := r.ledger(quota.LedgerUsage); l != nil {
		if _, err := l.Consume(ctx, req.Account, 1); err != nil {
			r.rejected(ctx, req, err)
			return nil, err
		}
	}
	if l := r.ledger(quota.LedgerBudget); l != nil && req.APIKey != "" {
		if err := l.Check(ctx, req.APIKey, 1); err != nil {
			r.rejected(ctx, req, err)
			return nil, err
		}
	}

	rn := newRun(r, req)
	wc := workflow.NewContext(req.ID, req.Channel, req.Account)
	out := r.engine.Execute(ctx, wc, r.pipeline(rn))
	if out.State != workflow.StateSucceeded {
		err := out.Err
		if err == nil {
			err = errors.New("workflow did not succeed")
		}
		r.aborted(ctx, req, rn, out, err)
		return nil, err
	}

	resp, ok := workflow.Value[*Response](wc, nsResponse, keyResponse)
	if !ok {
		return nil, errors.New("relay: pipeline produced no response")
	}
	return resp, nil
}

// Cancel marks a request as canceled for every replica.
func (r *Relay) Cancel(ctx context.Context, channel workflow.Channel, account, requestID string) error {
	if r.deps.Cancels == nil {
		return errors.New("relay: cancellation not configured")
	}
	return r.deps.Cancels.Cancel(ctx, channel, account, requestID)
}

// pipeline builds the ordered step list for one request.
func (r *Relay) pipeline(rn *run) []workflow.StepSpec {
	return []workflow.StepSpec{
		{
			Step:      &routeStep{run: rn},
			OnFailure: workflow.AbortImmediately,
		},
		{
			Step:        &upstreamStep{run: rn},
			MaxAttempts: r.cfg.MaxAttempts,
			Backoff:     r.cfg.Backoff,
			MaxBackoff:  r.cfg.MaxBackoff,
			Timeout:     r.cfg.UpstreamTimeout,
			OnFailure:   workflow.RetryThenAbort,
		},
		{
			Step:      &transformStep{run: rn},
			OnFailure: workflow.AbortImmediately,
		},
		{
			Step:      &diagnosticsStep{run: rn},
			OnFailure: workflow.SkipImmediately,
			Channels:  []workflow.Channel{workflow.ChannelInternal},
		},
	}
}

func (r *Relay) rejected(ctx context.Context, req Request, err error) {
	code := Code(err)
	r.logger.Warn("request rejected", "request_id", req.ID, "code", code, "error", err)
	r.audit.Log(security.AuditEvent{
		Type:      security.EventRequestRejected,
		RequestID: req.ID,
		TraceID:   telemetry.TraceID(ctx),
		Channel:   string(req.Channel),
		Account:   req.Account,
		Code:      code,
		Detail:    err.Error(),
	})
}

func (r *Relay) aborted(ctx context.Context, req Request, rn *run, out workflow.Outcome, err error) {
	code := Code(err)
	ev := security.AuditEvent{
		Type:      security.EventRequestAborted,
		RequestID: req.ID,
		TraceID:   telemetry.TraceID(ctx),
		Channel:   string(req.Channel),
		Account:   req.Account,
		Step:      out.Step,
		Code:      code,
		Detail:    err.Error(),
	}
	if code == CodeCanceled {
		ev.Type = security.EventRequestCanceled
	}
	if rn.hasDecision {
		ev.ArmID = rn.decision.Arm.ID
	}
	r.audit.Log(ev)
}
