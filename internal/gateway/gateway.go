package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sgate/internal/config"
	"github.com/flemzord/sgate/internal/core"
	"github.com/flemzord/sgate/internal/cron"
	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/relay"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/security"
	"github.com/flemzord/sgate/internal/telemetry"
)

// Service names resolved from the AppContext at Start.
const (
	ServiceRelay       = "relay"
	ServiceRouter      = "routing.router"
	ServiceProviders   = "provider.registry"
	ServiceLedgers     = "quota.ledgers"
	ServiceScheduler   = "cron.scheduler"
	ServiceMetrics     = "telemetry.metrics"
	ServiceAudit       = "security.audit"
	ServiceRateLimiter = "security.ratelimiter"
	ServiceRedactor    = "security.redactor"
	ServiceConfig      = "config"
)

func init() {
	core.RegisterModule(&Gateway{})
}

var (
	_ core.Module       = (*Gateway)(nil)
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Gateway is the HTTP edge module. It serves the client API, the admin
// API, health and metrics. Nothing imports it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	stats     *Metrics
	startedAt time.Time
	now       func() time.Time

	// Resolved lazily at Start() via service registry.
	relay       *relay.Relay
	router      *routing.Router
	providers   *provider.Registry
	ledgers     quota.Set
	scheduler   *cron.Scheduler
	metrics     *telemetry.Metrics
	audit       *security.AuditLogger
	rateLimiter *security.RateLimiter
	redactor    *security.Redactor
	appConfig   *config.Config
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.stats = &Metrics{}
	g.now = time.Now

	ctx.RegisterService("gateway.metrics", g.stats)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	var errs []error
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		errs = append(errs, fmt.Errorf("gateway: invalid bind address %q", g.config.Bind))
	}
	if !g.config.Auth.IsConfigured() && len(g.config.Auth.APIKeys) == 0 {
		errs = append(errs, errors.New("gateway: auth.bearer_token or auth.api_keys is required"))
	}
	if (g.config.Auth.BasicUser == "") != (g.config.Auth.BasicPass == "") {
		errs = append(errs, errors.New("gateway: auth.basic_user and auth.basic_pass must be set together"))
	}
	for key, account := range g.config.Auth.APIKeys {
		if key == "" || account == "" {
			errs = append(errs, errors.New("gateway: auth.api_keys entries need a key and an account"))
			break
		}
	}
	return errors.Join(errs...)
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	if err := g.resolve(); err != nil {
		return err
	}
	g.startedAt = g.now()

	g.server = &http.Server{
		Addr:              g.config.Bind,
		Handler:           g.buildRouter(),
		ReadTimeout:       g.config.ReadTimeout,
		ReadHeaderTimeout: g.config.ReadTimeout,
		WriteTimeout:      g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// resolve binds services published by other modules. Only the relay is
// required; admin endpoints degrade when their backing service is absent.
func (g *Gateway) resolve() error {
	r, ok := core.ServiceAs[*relay.Relay](g.appCtx, ServiceRelay)
	if !ok {
		return errors.New("gateway: relay service not registered")
	}
	g.relay = r
	g.router, _ = core.ServiceAs[*routing.Router](g.appCtx, ServiceRouter)
	g.providers, _ = core.ServiceAs[*provider.Registry](g.appCtx, ServiceProviders)
	g.ledgers, _ = core.ServiceAs[quota.Set](g.appCtx, ServiceLedgers)
	g.scheduler, _ = core.ServiceAs[*cron.Scheduler](g.appCtx, ServiceScheduler)
	g.metrics, _ = core.ServiceAs[*telemetry.Metrics](g.appCtx, ServiceMetrics)
	g.audit, _ = core.ServiceAs[*security.AuditLogger](g.appCtx, ServiceAudit)
	g.rateLimiter, _ = core.ServiceAs[*security.RateLimiter](g.appCtx, ServiceRateLimiter)
	g.appConfig, _ = core.ServiceAs[*config.Config](g.appCtx, ServiceConfig)

	if red, ok := core.ServiceAs[*security.Redactor](g.appCtx, ServiceRedactor); ok {
		g.redactor = red
	} else {
		g.redactor = security.NewRedactor()
	}
	for _, s := range g.config.Auth.secrets() {
		g.redactor.AddLiteral(s)
	}
	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
