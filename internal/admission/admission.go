// Package admission bounds the number of requests the gateway processes
// concurrently. Requests beyond the limit wait up to a configurable queue
// timeout for a permit and are then rejected as overloaded.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/flemzord/sgate/internal/telemetry"
)

// DefaultMaxInFlight is used when Config.MaxInFlight is not positive.
const DefaultMaxInFlight = 64

// Config holds the admission limits.
type Config struct {
	MaxInFlight  int64         `yaml:"max_in_flight"`
	QueueTimeout time.Duration `yaml:"queue_timeout"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTraceID sets the function used to label rejections. The default
// reads the OpenTelemetry trace id from the context. When fn returns an
// empty id a random one is generated.
func WithTraceID(fn func(context.Context) string) Option {
	return func(c *Controller) { c.traceID = fn }
}

// Controller is a shared counting semaphore. It is safe for concurrent use
// and meant to be created once and injected where requests enter.
type Controller struct {
	sem     *semaphore.Weighted
	limit   int64
	logger  *slog.Logger
	metrics *telemetry.Metrics
	traceID func(context.Context) string
	now     func() time.Time
}

// NewController creates a controller allowing cfg.MaxInFlight concurrent permits.
func NewController(cfg Config, opts ...Option) *Controller {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	c := &Controller{
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		limit:   cfg.MaxInFlight,
		traceID: telemetry.TraceID,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Limit returns the configured number of permits.
func (c *Controller) Limit() int64 { return c.limit }

// Acquire obtains a permit. A non-positive timeout makes a single
// non-blocking attempt. A positive timeout waits at most that long.
//
// When the wait budget runs out Acquire returns an *OverloadedError. When
// ctx ends first, ctx.Err() is returned instead: a caller that gave up is
// not an overload. Acquire never retries.
func (c *Controller) Acquire(ctx context.Context, timeout time.Duration) (*Permit, error) {
	start := c.now()

	if timeout <= 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !c.sem.TryAcquire(1) {
			return nil, c.reject(ctx, 0)
		}
		return c.grant(0), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.sem.Acquire(waitCtx, 1); err != nil {
		waited := c.now().Sub(start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, c.reject(ctx, waited)
		}
		return nil, err
	}
	return c.grant(c.now().Sub(start)), nil
}

// Do acquires a permit, runs fn, and releases the permit on every exit
// path, panics included.
func (c *Controller) Do(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	permit, err := c.Acquire(ctx, timeout)
	if err != nil {
		return err
	}
	defer permit.Release()
	return fn(ctx)
}

func (c *Controller) grant(waited time.Duration) *Permit {
	c.metrics.Admitted(waited)
	return &Permit{ctrl: c}
}

func (c *Controller) reject(ctx context.Context, waited time.Duration) error {
	c.metrics.Rejected(waited)
	traceID := c.traceID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	err := &OverloadedError{
		TraceID: traceID,
		Limit:   c.limit,
		Waited:  waited,
	}
	c.logger.Warn("admission rejected",
		"limit", c.limit,
		"waited", waited,
		"trace_id", err.TraceID,
	)
	return err
}

// Permit is a held admission slot. Release returns it exactly once no
// matter how many times it is called.
type Permit struct {
	ctrl *Controller
	once sync.Once
}

// Release returns the permit to the controller.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.ctrl.sem.Release(1)
		p.ctrl.metrics.Released()
	})
}
