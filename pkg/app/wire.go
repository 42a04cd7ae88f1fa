package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/flemzord/sgate/internal/admission"
	"github.com/flemzord/sgate/internal/config"
	"github.com/flemzord/sgate/internal/core"
	"github.com/flemzord/sgate/internal/cron"
	"github.com/flemzord/sgate/internal/fastcache"
	"github.com/flemzord/sgate/internal/gateway"
	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/relay"
	"github.com/flemzord/sgate/internal/reload"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/security"
	"github.com/flemzord/sgate/internal/telemetry"
)

// Runtime is a fully wired gateway process: configured modules loaded,
// request-path components built and published as services.
type Runtime struct {
	App       *core.App
	Logger    *slog.Logger
	Router    *routing.Router
	Providers *provider.Registry
	Ledgers   quota.Set
	Scheduler *cron.Scheduler
	Relay     *relay.Relay

	closers []func(context.Context) error
}

// BuildParams are the process-level inputs of Build.
type BuildParams struct {
	// LogOutput receives the process log. Defaults to os.Stderr.
	LogOutput io.Writer

	// DataDir overrides cfg.DataDir and the XDG default.
	DataDir string

	// Version is reported on trace spans.
	Version string

	// ConfigPath, when set, enables reloading the arm catalog and secrets
	// from this file on change or SIGHUP.
	ConfigPath string

	// Only restricts the configured modules to these namespaces, e.g.
	// "store" and "cache" for commands that never serve traffic. Empty
	// loads every configured module.
	Only []string
}

// Build wires cfg into a Runtime. On error every resource acquired so far
// is released.
func Build(ctx context.Context, cfg *config.Config, params BuildParams) (_ *Runtime, err error) {
	rt := &Runtime{}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
		}
	}()

	redactor := security.NewRedactor()
	redactor.SetLiterals(cfg.Security.Secrets...)

	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := security.NewLogger(out, cfg.Log, redactor)
	if err != nil {
		return nil, err
	}
	rt.Logger = logger

	audit, err := openAudit(cfg.Security.AuditLog, redactor, logger, rt)
	if err != nil {
		return nil, err
	}
	rateLimiter := security.NewRateLimiter(cfg.Security.RateLimits)

	shutdownTracing, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: params.Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.closers = append(rt.closers, shutdownTracing)
	metrics := telemetry.NewMetrics()

	dataDir := firstNonEmpty(params.DataDir, cfg.DataDir, DefaultDataDir())
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)
	rt.App = core.NewApp(appCtx)

	// Services modules may resolve during Provision.
	appCtx.RegisterService(gateway.ServiceConfig, cfg)
	appCtx.RegisterService(gateway.ServiceRedactor, redactor)
	appCtx.RegisterService(gateway.ServiceAudit, audit)
	appCtx.RegisterService(gateway.ServiceRateLimiter, rateLimiter)
	appCtx.RegisterService(gateway.ServiceMetrics, metrics)

	if err := rt.App.LoadModules(selectModules(config.Resolve(cfg), params.Only)); err != nil {
		return nil, err
	}

	cache, ok := core.ServiceAs[fastcache.Cache](appCtx, fastcache.Service)
	if !ok {
		logger.Info("no distributed cache configured, using in-process cache")
		cache = fastcache.NewMemory()
	}

	var armStore routing.Store = routing.NewMemoryStore()
	if s, ok := core.ServiceAs[routing.Store](appCtx, routing.StoreService); ok {
		armStore = s
	}
	var ledgerStore quota.DurableStore = quota.NewMemoryStore()
	if s, ok := core.ServiceAs[quota.DurableStore](appCtx, quota.StoreService); ok {
		ledgerStore = s
	} else {
		logger.Warn("no durable store configured, ledgers and arm stats live in memory")
	}

	rt.Providers, err = loadProviders(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	rt.Router = routing.NewRouter(armStore, cfg.Routing,
		routing.WithLogger(logger.With("component", "routing")),
		routing.WithMetrics(metrics),
	)
	arms := make([]routing.Arm, 0, len(cfg.Arms))
	for _, a := range cfg.Arms {
		arms = append(arms, a.Arm())
	}
	if err := rt.Router.SyncCatalog(ctx, arms); err != nil {
		return nil, fmt.Errorf("syncing arm catalog: %w", err)
	}

	enabled := cfg.Quota.Enabled()
	ledgers := make([]*quota.Ledger, 0, len(enabled))
	for _, name := range slices.Sorted(maps.Keys(enabled)) {
		ledgers = append(ledgers, quota.NewLedger(name, enabled[name], cache, ledgerStore,
			quota.WithLogger(logger.With("ledger", name)),
			quota.WithMetrics(metrics),
		))
	}
	rt.Ledgers = quota.NewSet(ledgers...)

	relayCfg := cfg.Relay
	if relayCfg.QueueTimeout <= 0 {
		relayCfg.QueueTimeout = cfg.Admission.QueueTimeout
	}
	rt.Relay = relay.New(relay.Deps{
		Admission: admission.NewController(cfg.Admission,
			admission.WithLogger(logger.With("component", "admission")),
			admission.WithMetrics(metrics),
		),
		Router:    rt.Router,
		Providers: rt.Providers,
		Quotas:    rt.Ledgers,
		Cancels:   relay.NewCancels(cache, 0),
	}, relayCfg,
		relay.WithLogger(logger.With("component", "relay")),
		relay.WithMetrics(metrics),
		relay.WithAudit(audit),
		relay.WithRedactor(redactor),
	)

	rt.Scheduler = cron.NewScheduler(logger.With("component", "cron"))
	for _, l := range ledgers {
		if err := rt.Scheduler.RegisterJob(&cron.QuotaSyncJob{
			Ledger:       l,
			Logger:       logger,
			Audit:        audit,
			ScheduleExpr: l.Config().Schedule,
			RunExpiry:    cfg.Quota.SyncTimeout,
		}); err != nil {
			return nil, err
		}
	}
	if err := rt.Scheduler.RegisterJob(&cron.RateLimitSweepJob{Limiter: rateLimiter, Logger: logger}); err != nil {
		return nil, err
	}
	rt.App.AppendModule(string(rt.Scheduler.ModuleInfo().ID), rt.Scheduler)

	if params.ConfigPath != "" {
		handler := reload.NewHandler(rt.Router, redactor, audit, logger.With("component", "reload"))
		rl := reload.NewModule(params.ConfigPath, handler, reload.WatcherConfig{}, logger)
		rt.App.AppendModule(string(rl.ModuleInfo().ID), rl)
	}

	appCtx.RegisterService(gateway.ServiceRouter, rt.Router)
	appCtx.RegisterService(gateway.ServiceProviders, rt.Providers)
	appCtx.RegisterService(gateway.ServiceLedgers, rt.Ledgers)
	appCtx.RegisterService(gateway.ServiceRelay, rt.Relay)
	appCtx.RegisterService(gateway.ServiceScheduler, rt.Scheduler)

	logger.Info("runtime wired",
		"providers", len(rt.Providers.Names()),
		"arms", len(arms),
		"ledgers", rt.Ledgers.Names(),
		"data_dir", dataDir,
	)
	return rt, nil
}

// Close releases every module and process resource held by the runtime.
// It is safe to call after the app was stopped.
func (rt *Runtime) Close(ctx context.Context) {
	if rt.App != nil {
		rt.App.Close()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil && rt.Logger != nil {
			rt.Logger.Warn("shutdown step failed", "error", err)
		}
	}
	rt.closers = nil
}

// SyncLedgers reconciles every ledger once, outside the scheduler.
func (rt *Runtime) SyncLedgers(ctx context.Context) (map[string][]quota.SyncResult, error) {
	out := make(map[string][]quota.SyncResult)
	var errs []error
	for _, name := range rt.Ledgers.Names() {
		l, err := rt.Ledgers.Get(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results, err := l.SyncAll(ctx)
		out[name] = results
		if err != nil {
			errs = append(errs, fmt.Errorf("ledger %s: %w", name, err))
		}
	}
	return out, errors.Join(errs...)
}

// loadProviders instantiates one provider module per configured instance.
func loadProviders(appCtx *core.AppContext, cfg *config.Config) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		node := cfg.Providers[name]
		typ, err := config.ProviderType(node)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		id := core.ProviderModuleID(typ)
		mod, err := appCtx.LoadInstance(string(id), name, &node)
		if err != nil {
			return nil, err
		}
		p, ok := mod.(provider.Provider)
		if !ok {
			return nil, fmt.Errorf("provider %s: module %s does not implement provider.Provider", name, id)
		}
		reg.Register(name, p)
	}
	return reg, nil
}

// openAudit returns an audit logger writing JSONL to path, or one that
// only mirrors events into the process log when path is empty.
func openAudit(path string, redactor *security.Redactor, logger *slog.Logger, rt *Runtime) (*security.AuditLogger, error) {
	auditLog := logger.With("component", "audit")
	cfg := security.AuditLoggerConfig{
		Redactor: redactor,
		OnEvent: func(e security.AuditEvent) {
			auditLog.Info(string(e.Type), "request_id", e.RequestID, "code", e.Code, "detail", e.Detail)
		},
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		cfg.Writer = f
		cfg.OnEvent = nil
		rt.closers = append(rt.closers, func(context.Context) error { return f.Close() })
	}
	return security.NewAuditLogger(cfg), nil
}

func selectModules(ids, namespaces []string) []string {
	if len(namespaces) == 0 {
		return ids
	}
	return slices.DeleteFunc(slices.Clone(ids), func(id string) bool {
		return !slices.Contains(namespaces, core.ModuleID(id).Namespace())
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
