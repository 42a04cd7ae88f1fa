package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/flemzord/sgate/internal/config"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/security"
)

// Catalog is the subset of routing.Router a reload drives.
type Catalog interface {
	SyncCatalog(ctx context.Context, arms []routing.Arm) error
	Snapshot(ctx context.Context, capability, model string) ([]routing.ArmSnapshot, error)
	Update(ctx context.Context, armID string, p routing.Patch) (routing.Arm, error)
}

// Result summarizes one applied reload.
type Result struct {
	// Synced is the number of catalog arms upserted.
	Synced int
	// Retired lists arms deactivated because they left the catalog.
	Retired []string
	// Secrets is the number of redaction literals added.
	Secrets int
}

// Handler applies a configuration to the running components. Only the
// arm catalog and secrets are reloaded; every other section needs a
// restart.
type Handler struct {
	catalog  Catalog
	redactor *security.Redactor
	audit    *security.AuditLogger
	logger   *slog.Logger

	mu      sync.Mutex
	secrets map[string]struct{}
}

// NewHandler creates a reload handler. redactor and audit may be nil.
func NewHandler(catalog Catalog, redactor *security.Redactor, audit *security.AuditLogger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		catalog:  catalog,
		redactor: redactor,
		audit:    audit,
		logger:   logger,
		secrets:  make(map[string]struct{}),
	}
}

// HandleReload loads a fresh config from disk, validates it, and applies
// it. An invalid file leaves the running state untouched.
func (h *Handler) HandleReload(ctx context.Context, configPath string) (Result, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return Result{}, fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return Result{}, fmt.Errorf("validating config: %w", err)
	}
	return h.Apply(ctx, cfg)
}

// Apply reloads from an already-validated config. Catalog arms are
// upserted with their learned statistics kept; arms no longer listed are
// deactivated rather than deleted so in-flight reports still land.
// Secrets are only ever added: a value removed from the file stays
// redacted until restart.
func (h *Handler) Apply(ctx context.Context, cfg *config.Config) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("context cancelled before reload: %w", err)
	}

	var res Result
	res.Secrets = h.addSecrets(cfg.Security.Secrets)

	arms := make([]routing.Arm, 0, len(cfg.Arms))
	listed := make(map[string]struct{}, len(cfg.Arms))
	for _, a := range cfg.Arms {
		arms = append(arms, a.Arm())
		listed[a.ID] = struct{}{}
	}
	if err := h.catalog.SyncCatalog(ctx, arms); err != nil {
		return res, fmt.Errorf("syncing catalog: %w", err)
	}
	res.Synced = len(arms)

	current, err := h.catalog.Snapshot(ctx, "", "")
	if err != nil {
		return res, fmt.Errorf("listing arms: %w", err)
	}
	inactive := false
	var errs []error
	for _, s := range current {
		if _, ok := listed[s.Arm.ID]; ok || !s.Arm.Active {
			continue
		}
		if _, err := h.catalog.Update(ctx, s.Arm.ID, routing.Patch{Active: &inactive}); err != nil {
			if errors.Is(err, routing.ErrArmNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("retiring arm %q: %w", s.Arm.ID, err))
			continue
		}
		res.Retired = append(res.Retired, s.Arm.ID)
	}

	h.logger.Info("configuration reloaded", "arms", res.Synced, "retired", res.Retired, "secrets_added", res.Secrets)
	h.audit.Log(security.AuditEvent{
		Type: security.EventConfigReload,
		Metadata: map[string]string{
			"arms":    strconv.Itoa(res.Synced),
			"retired": strings.Join(res.Retired, ","),
		},
	})
	return res, errors.Join(errs...)
}

func (h *Handler) addSecrets(values []string) int {
	if h.redactor == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	added := 0
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := h.secrets[v]; ok {
			continue
		}
		h.secrets[v] = struct{}{}
		h.redactor.AddLiteral(v)
		added++
	}
	return added
}
