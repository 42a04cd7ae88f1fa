package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/stream"
	"github.com/flemzord/sgate/internal/workflow"
	"github.com/flemzord/sgate/pkg/message"
)

// Workflow context namespaces and keys.
const (
	nsRoute    = "route"
	nsUpstream = "upstream"
	nsResponse = "response"

	keyDecision = "decision"
	keyMessage  = "message"
	keyResponse = "response"
)

const readBufferSize = 32 << 10

// run is the per-request state shared by the steps. Unlike workflow
// context writes it survives retries, so failed arms stay excluded.
type run struct {
	relay *Relay
	req   Request

	exclude     map[string]struct{}
	decision    routing.Decision
	hasDecision bool
	reselect    bool
	lastErr     error

	attempts  int
	delivered bool
	latency   time.Duration
	cost      float64
	skipped   int
}

func newRun(r *Relay, req Request) *run {
	return &run{relay: r, req: req, exclude: make(map[string]struct{})}
}

func (rn *run) routingRequest() routing.Request {
	return routing.Request{
		Capability: string(rn.req.Call.Capability),
		Model:      rn.req.Model,
		Exclude:    rn.exclude,
	}
}

// routeStep picks the first arm.
type routeStep struct{ run *run }

func (s *routeStep) Name() string { return "route" }

func (s *routeStep) Run(ctx context.Context, wc *workflow.Context) workflow.Result {
	d, err := s.run.relay.deps.Router.Select(ctx, s.run.routingRequest())
	if err != nil {
		return workflow.Abort(err)
	}
	s.run.decision = d
	s.run.hasDecision = true
	wc.Set(nsRoute, keyDecision, d)
	return workflow.Success()
}

// upstreamStep calls the selected arm and reads its output. A failed arm
// is reported to the router and excluded; the next attempt reselects.
type upstreamStep struct{ run *run }

func (s *upstreamStep) Name() string { return "upstream" }

func (s *upstreamStep) Run(ctx context.Context, wc *workflow.Context) workflow.Result {
	rn := s.run
	r := rn.relay

	if rn.reselect {
		d, err := r.deps.Router.Select(ctx, rn.routingRequest())
		if err != nil {
			if errors.Is(err, routing.ErrNoAvailableArms) && rn.lastErr != nil {
				return workflow.Abort(fmt.Errorf("%w: every arm failed: %w", ErrUpstream, rn.lastErr))
			}
			return workflow.Abort(err)
		}
		rn.decision = d
		rn.reselect = false
		wc.Set(nsRoute, keyDecision, d)
	}
	arm := rn.decision.Arm
	rn.attempts++

	p, err := r.deps.Providers.Get(arm.InstanceID)
	if err != nil {
		return s.failed(ctx, arm, 0, err)
	}

	call := rn.req.Call
	call.Model = arm.ProviderModelID
	if call.Model == "" {
		call.Model = arm.Model
	}

	start := r.now()
	resp, err := p.Invoke(ctx, call)
	if err != nil {
		return s.failed(ctx, arm, r.now().Sub(start), err)
	}
	defer func() { _ = resp.Close() }()

	msg, err := s.read(ctx, wc, resp)
	if errors.Is(err, workflow.ErrCanceled) {
		return workflow.Result{Status: workflow.StatusAbort, Err: err, SideEffect: true}
	}
	latency := r.now().Sub(start)
	if err != nil {
		return s.failed(ctx, arm, latency, err)
	}

	tokens := int64(0)
	if msg.Usage != nil {
		tokens = int64(msg.Usage.TotalTokens)
	}
	rn.latency = latency
	rn.cost = r.cost(arm.ID, tokens)
	r.report(ctx, arm.ID, routing.Outcome{
		Success:   true,
		LatencyMs: float64(latency.Milliseconds()),
		Cost:      rn.cost,
	})
	r.chargeBudget(ctx, rn.req.APIKey, tokens)

	wc.Set(nsUpstream, keyMessage, msg)
	return workflow.Result{Status: workflow.StatusSuccess, SideEffect: true}
}

// failed handles an attempt that did not produce a message.
func (s *upstreamStep) failed(ctx context.Context, arm routing.Arm, latency time.Duration, err error) workflow.Result {
	rn := s.run
	r := rn.relay

	// The caller went away; the engine turns this into an abort and
	// nothing is reported.
	if errors.Is(ctx.Err(), context.Canceled) {
		return workflow.Retry(ctx.Err())
	}

	// The request itself is at fault; another arm would reject it too.
	if errors.Is(err, provider.ErrBadRequest) || errors.Is(err, provider.ErrContextLength) {
		return workflow.Result{
			Status:     workflow.StatusAbort,
			Err:        fmt.Errorf("%w: %w", ErrInvalidRequest, err),
			SideEffect: true,
		}
	}

	r.report(ctx, arm.ID, routing.Outcome{Success: false, LatencyMs: float64(latency.Milliseconds())})
	rn.exclude[arm.ID] = struct{}{}
	rn.reselect = true
	rn.lastErr = err

	wrapped := fmt.Errorf("%w: arm %s: %w", ErrUpstream, arm.ID, err)
	// Deltas already reached the client; a second arm would duplicate them.
	if rn.delivered {
		return workflow.Result{Status: workflow.StatusAbort, Err: wrapped, SideEffect: true}
	}
	return workflow.Result{Status: workflow.StatusRetry, Err: wrapped, SideEffect: true}
}

// read drains the response into a normalized message, forwarding deltas
// to the request sink and polling for cancellation between chunks.
func (s *upstreamStep) read(ctx context.Context, wc *workflow.Context, resp *provider.Response) (message.Message, error) {
	rn := s.run
	r := rn.relay

	if resp.Stream == nil {
		if resp.Message == nil || len(resp.Message.Content) == 0 {
			return message.Message{}, errEmptyResponse
		}
		return *resp.Message, nil
	}

	acc := stream.NewAccumulator()
	buf := make([]byte, readBufferSize)
	lastPoll := r.now()
	for {
		n, err := resp.Stream.Read(buf)
		if n > 0 {
			rn.emit(acc.Feed(buf[:n]))
		}
		if acc.Done() || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return message.Message{}, fmt.Errorf("reading stream: %w", err)
		}
		if now := r.now(); now.Sub(lastPoll) >= r.cfg.CancelPollInterval {
			lastPoll = now
			if r.canceled(ctx, wc) {
				return message.Message{}, workflow.ErrCanceled
			}
		}
	}
	rn.emit(acc.Close())

	rn.skipped = acc.Skipped()
	r.metrics.StreamSkipped(acc.Skipped())

	msg := acc.Message()
	// A stream cut before the terminal marker with nothing in it is a
	// failed call, not an empty answer.
	if !acc.Done() && acc.Text() == "" && acc.Thought() == "" && len(msg.Blocks(message.BlockToolCall)) == 0 {
		return message.Message{}, errEmptyResponse
	}
	return msg, nil
}

func (rn *run) emit(deltas []stream.Delta) {
	if rn.req.Sink == nil || len(deltas) == 0 {
		return
	}
	for _, d := range deltas {
		// Thoughts never leave the gateway on the external channel.
		if d.Kind == message.BlockThought && rn.req.Channel == workflow.ChannelExternal {
			continue
		}
		rn.req.Sink(d)
		rn.delivered = true
	}
}

// transformStep shapes the upstream message for the caller. External
// callers never see thoughts and get secrets redacted.
type transformStep struct{ run *run }

func (s *transformStep) Name() string { return "transform" }

func (s *transformStep) Run(_ context.Context, wc *workflow.Context) workflow.Result {
	rn := s.run
	msg, ok := workflow.Value[message.Message](wc, nsUpstream, keyMessage)
	if !ok {
		return workflow.Abort(errors.New("relay: no upstream message"))
	}

	if wc.Channel == workflow.ChannelExternal {
		msg = msg.WithoutThoughts()
		if red := rn.relay.redactor; red != nil {
			content := slices.Clone(msg.Content)
			for i := range content {
				if content[i].Type == message.BlockText {
					content[i].Content = red.Redact(content[i].Content)
				}
			}
			msg.Content = content
		}
	}

	wc.Set(nsResponse, keyResponse, &Response{
		RequestID: rn.req.ID,
		Model:     rn.req.Model,
		ArmID:     rn.decision.Arm.ID,
		Message:   msg,
	})
	return workflow.Success()
}

// diagnosticsStep attaches routing details for internal callers.
type diagnosticsStep struct{ run *run }

func (s *diagnosticsStep) Name() string { return "diagnostics" }

func (s *diagnosticsStep) Run(_ context.Context, wc *workflow.Context) workflow.Result {
	rn := s.run
	resp, ok := workflow.Value[*Response](wc, nsResponse, keyResponse)
	if !ok {
		return workflow.Skip(errors.New("relay: no response to annotate"))
	}
	arm := rn.decision.Arm
	cp := *resp
	cp.Diagnostics = &Diagnostics{
		Provider:        arm.Provider,
		InstanceID:      arm.InstanceID,
		ProviderModelID: arm.ProviderModelID,
		Explored:        rn.decision.Explored,
		Score:           rn.decision.Score,
		Attempts:        rn.attempts,
		FailedArms:      slices.Sorted(maps.Keys(rn.exclude)),
		Latency:         rn.latency,
		Cost:            rn.cost,
		SkippedChunks:   rn.skipped,
	}
	wc.Set(nsResponse, keyResponse, &cp)
	return workflow.Success()
}

// report forwards an outcome to the router. Conflicts are counted by the
// router and never fail the request.
func (r *Relay) report(ctx context.Context, armID string, out routing.Outcome) {
	if err := r.deps.Router.Report(ctx, armID, out); err != nil {
		r.logger.Warn("arm report dropped", "arm", armID, "error", err)
	}
}

// cost prices tokens with the arm's per-1k rate.
func (r *Relay) cost(armID string, tokens int64) float64 {
	return float64(tokens) / 1000 * r.cfg.Pricing[armID]
}

// chargeBudget takes the tokens of a served request from the key's
// budget. When the balance is short it is drained instead, so the next
// request is refused while this one is still delivered.
func (r *Relay) chargeBudget(ctx context.Context, apiKey string, tokens int64) {
	l := r.ledger(quota.LedgerBudget)
	if l == nil || apiKey == "" || tokens <= 0 {
		return
	}
	remaining, err := l.Consume(ctx, apiKey, tokens)
	if errors.Is(err, quota.ErrQuotaExceeded) && remaining > 0 {
		_, err = l.Consume(ctx, apiKey, remaining)
	}
	if err != nil && !errors.Is(err, quota.ErrQuotaExceeded) {
		r.logger.Warn("budget charge failed", "tokens", tokens, "error", err)
	}
}

func (r *Relay) canceled(ctx context.Context, wc *workflow.Context) bool {
	if r.deps.Cancels == nil {
		return false
	}
	ok, err := r.deps.Cancels.Canceled(ctx, wc.Channel, wc.Account, wc.RequestID)
	if err != nil {
		r.logger.Warn("cancel check failed", "request_id", wc.RequestID, "error", err)
		return false
	}
	return ok
}
