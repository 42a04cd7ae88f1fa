// Package routing chooses an upstream arm for each request with a
// Thompson-sampling bandit and folds call outcomes back into per-arm
// statistics through optimistic compare-and-swap updates.
package routing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/flemzord/sgate/internal/telemetry"
)

// Config controls router behavior.
type Config struct {
	// LatencyEMA is the smoothing factor of the average latency. Default: 0.2.
	LatencyEMA float64 `yaml:"latency_ema"`

	// MaxConflictRetries bounds the compare-and-swap attempts of one Report.
	// Default: 8.
	MaxConflictRetries int `yaml:"max_conflict_retries"`

	// LatencyBudgetMs normalizes latency in the reward. Default: 1000.
	LatencyBudgetMs float64 `yaml:"latency_budget_ms"`

	Cooldown CooldownConfig `yaml:"cooldown"`
}

func (c *Config) defaults() {
	if c.LatencyEMA <= 0 || c.LatencyEMA > 1 {
		c.LatencyEMA = 0.2
	}
	if c.MaxConflictRetries <= 0 {
		c.MaxConflictRetries = 8
	}
	if c.LatencyBudgetMs <= 0 {
		c.LatencyBudgetMs = minLatencyBudgetMs
	}
	c.Cooldown.defaults()
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithRandSource seeds the exploration coin, for tests.
func WithRandSource(src rand.Source) Option {
	return func(r *Router) { r.rng = rand.New(src) }
}

// Router selects arms and records outcomes. It holds no per-arm state of
// its own; everything lives in the Store, so several routers may share one.
type Router struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRouter creates a router over store.
func NewRouter(store Store, cfg Config, opts ...Option) *Router {
	cfg.defaults()
	r := &Router{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// Store returns the backing store.
func (r *Router) Store() Store { return r.store }

// Select picks an arm for req. With probability equal to the largest
// candidate epsilon it explores uniformly; otherwise every candidate is
// scored by a Beta posterior draw scaled by its weight and the best wins.
// The draw is seeded from the arm id and version, so unchanged statistics
// always produce the same score.
func (r *Router) Select(ctx context.Context, req Request) (Decision, error) {
	arms, err := r.store.List(ctx, req.Capability, req.Model)
	if err != nil {
		return Decision{}, fmt.Errorf("listing arms: %w", err)
	}

	now := r.now()
	candidates := arms[:0]
	var epsilon float64
	for _, a := range arms {
		if !a.Selectable(now) || req.Excludes(a.ID) {
			continue
		}
		candidates = append(candidates, a)
		epsilon = max(epsilon, a.Epsilon)
	}
	if len(candidates) == 0 {
		r.metrics.NoArms(req.Capability, req.Model)
		return Decision{}, fmt.Errorf("%w: capability=%q model=%q", ErrNoAvailableArms, req.Capability, req.Model)
	}

	if epsilon > 0 {
		r.rngMu.Lock()
		explore := r.rng.Float64() < epsilon
		var pick int
		if explore {
			pick = r.rng.IntN(len(candidates))
		}
		r.rngMu.Unlock()

		if explore {
			d := Decision{Arm: candidates[pick], Explored: true, SelectedAt: now}
			r.metrics.Selected(d.Arm.ID, true)
			r.logger.Debug("arm explored", "arm", d.Arm.ID, "candidates", len(candidates))
			return d, nil
		}
	}

	best, bestScore := 0, score(&candidates[0])
	for i := 1; i < len(candidates); i++ {
		s := score(&candidates[i])
		if s > bestScore || (s == bestScore && better(&candidates[i], &candidates[best])) {
			best, bestScore = i, s
		}
	}

	d := Decision{Arm: candidates[best], Score: bestScore, SelectedAt: now}
	r.metrics.Selected(d.Arm.ID, false)
	r.logger.Debug("arm selected", "arm", d.Arm.ID, "score", bestScore, "candidates", len(candidates))
	return d, nil
}

// score draws from Beta(alpha+successes, beta+failures) times weight.
func score(a *Arm) float64 {
	alpha, beta := a.Alpha, a.Beta
	if alpha <= 0 {
		alpha = 1
	}
	if beta <= 0 {
		beta = 1
	}
	dist := distuv.Beta{
		Alpha: alpha + float64(a.Successes),
		Beta:  beta + float64(a.Failures),
		Src:   armSource(a.ID, a.Version),
	}
	return dist.Rand() * a.Weight
}

func armSource(id string, version int64) rand.Source {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return rand.NewPCG(h.Sum64(), uint64(version))
}

// better breaks score ties: higher priority, then lower average latency,
// then earlier cooldown (none counts as earliest), then arm id.
func better(a, b *Arm) bool {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c < 0
	}
	if c := cmp.Compare(a.AvgLatencyMs, b.AvgLatencyMs); c != 0 {
		return c < 0
	}
	if c := compareCooldown(a.CooldownUntil, b.CooldownUntil); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

func compareCooldown(a, b time.Time) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return -1
	case b.IsZero():
		return 1
	default:
		return a.Compare(b)
	}
}

// Report folds an outcome into the arm's statistics. Lost races are
// retried against fresh state up to MaxConflictRetries times; after that
// the update is dropped and ErrConflict returned for logging only.
func (r *Router) Report(ctx context.Context, armID string, out Outcome) error {
	for attempt := 0; attempt < r.cfg.MaxConflictRetries; attempt++ {
		cur, err := r.store.Get(ctx, armID)
		if err != nil {
			if errors.Is(err, ErrArmNotFound) {
				r.logger.Debug("report for vanished arm", "arm", armID)
			}
			return err
		}

		next := r.apply(cur, out)
		ok, err := r.store.CompareAndSwap(ctx, next, cur.Version)
		if err != nil {
			return err
		}
		if ok {
			r.metrics.Reported(armID, out.Success)
			return nil
		}
	}

	r.metrics.Conflict()
	r.logger.Warn("arm stats update dropped",
		"arm", armID,
		"attempts", r.cfg.MaxConflictRetries,
		"success", out.Success,
	)
	return ErrConflict
}

// apply computes the next arm state from cur and out.
func (r *Router) apply(cur Arm, out Outcome) Arm {
	next := cur
	now := r.now()

	next.TotalTrials++
	if out.Success {
		next.Successes++
		next.ConsecutiveFailures = 0
	} else {
		next.Failures++
		next.ConsecutiveFailures++
		next.CooldownUntil = now.Add(r.cfg.Cooldown.duration(next.ConsecutiveFailures))
	}
	next.SuccessRate = float64(next.Successes) / float64(max(next.TotalTrials, 1))

	lat := max(out.LatencyMs, 0)
	if next.P95.Count == 0 {
		next.AvgLatencyMs = lat
	} else {
		a := r.cfg.LatencyEMA
		next.AvgLatencyMs = a*lat + (1-a)*next.AvgLatencyMs
	}
	next.P95.Add(lat)
	next.LatencyP95Ms = next.P95.Value()

	next.TotalCost += max(out.Cost, 0)
	next.LastReward = ComputeReward(lat, out.Cost, out.Success, r.cfg.LatencyBudgetMs)
	return next
}

// Snapshot returns matching arms with selection ratios derived across arms
// that share a capability and model.
func (r *Router) Snapshot(ctx context.Context, capability, model string) ([]ArmSnapshot, error) {
	arms, err := r.store.List(ctx, capability, model)
	if err != nil {
		return nil, fmt.Errorf("listing arms: %w", err)
	}

	type group struct{ capability, model string }
	totals := make(map[group]int64)
	for _, a := range arms {
		totals[group{a.Capability, a.Model}] += a.TotalTrials
	}

	now := r.now()
	out := make([]ArmSnapshot, 0, len(arms))
	for _, a := range arms {
		s := ArmSnapshot{Arm: a, Available: a.Selectable(now)}
		if t := totals[group{a.Capability, a.Model}]; t > 0 {
			s.SelectionRatio = float64(a.TotalTrials) / float64(t)
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b ArmSnapshot) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Update applies an operator patch to an arm, retrying on conflict.
func (r *Router) Update(ctx context.Context, armID string, p Patch) (Arm, error) {
	for attempt := 0; attempt < r.cfg.MaxConflictRetries; attempt++ {
		cur, err := r.store.Get(ctx, armID)
		if err != nil {
			return Arm{}, err
		}
		next := cur
		if p.Weight != nil {
			next.Weight = *p.Weight
		}
		if p.Priority != nil {
			next.Priority = *p.Priority
		}
		if p.Active != nil {
			next.Active = *p.Active
		}
		ok, err := r.store.CompareAndSwap(ctx, next, cur.Version)
		if err != nil {
			return Arm{}, err
		}
		if ok {
			next.Version = cur.Version + 1
			r.logger.Info("arm updated", "arm", armID, "weight", next.Weight, "priority", next.Priority, "active", next.Active)
			return next, nil
		}
	}
	return Arm{}, ErrConflict
}

// SyncCatalog upserts every arm from the catalog, keeping learned stats.
func (r *Router) SyncCatalog(ctx context.Context, arms []Arm) error {
	var errs []error
	for _, a := range arms {
		if err := r.store.Upsert(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("arm %q: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}
