// Package gateway is the HTTP edge of sgate: the client API, streaming
// over server-sent events and websockets, and the operator endpoints.
// It binds to loopback by default and follows the module system pattern.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/sgate/internal/core"
	"github.com/flemzord/sgate/internal/cron"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/relay"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/security"
)

var errNotConfigured = errors.New("not configured")

// handleListArms returns the arm snapshot, optionally filtered by the
// capability and model query parameters.
func (g *Gateway) handleListArms() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.router == nil {
			g.writeError(w, r, codeUnavailable, fmt.Errorf("router %w", errNotConfigured))
			return
		}
		q := r.URL.Query()
		snaps, err := g.router.Snapshot(r.Context(), q.Get("capability"), q.Get("model"))
		if err != nil {
			g.writeError(w, r, relay.CodeInternal, err)
			return
		}
		writeJSON(w, http.StatusOK, snaps)
	}
}

// handleUpdateArm applies an operator patch to one arm.
func (g *Gateway) handleUpdateArm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.router == nil {
			g.writeError(w, r, codeUnavailable, fmt.Errorf("router %w", errNotConfigured))
			return
		}
		id := chi.URLParam(r, "id")

		var patch routing.Patch
		if err := g.decodeBody(r, &patch); err != nil {
			g.writeError(w, r, relay.CodeInvalidRequest, err)
			return
		}
		if patch.Weight == nil && patch.Priority == nil && patch.Active == nil {
			g.writeError(w, r, relay.CodeInvalidRequest, errors.New("patch sets no field"))
			return
		}
		if patch.Weight != nil && *patch.Weight < 0 {
			g.writeError(w, r, relay.CodeInvalidRequest, errors.New("weight must not be negative"))
			return
		}

		arm, err := g.router.Update(r.Context(), id, patch)
		switch {
		case errors.Is(err, routing.ErrArmNotFound):
			g.writeError(w, r, codeNotFound, fmt.Errorf("arm %q not found", id))
			return
		case errors.Is(err, routing.ErrConflict):
			g.writeError(w, r, codeConflict, err)
			return
		case err != nil:
			g.writeError(w, r, relay.CodeInternal, err)
			return
		}

		g.audit.Log(security.AuditEvent{
			Type:      security.EventArmUpdate,
			RequestID: requestIDFrom(r.Context()),
			ArmID:     arm.ID,
			Metadata: map[string]string{
				"weight":   strconv.FormatFloat(arm.Weight, 'g', -1, 64),
				"priority": strconv.Itoa(arm.Priority),
				"active":   strconv.FormatBool(arm.Active),
				"version":  strconv.FormatInt(arm.Version, 10),
			},
		})
		writeJSON(w, http.StatusOK, arm)
	}
}

// QuotaResponse is the JSON response for GET /api/quota/{ledger}/{key}.
type QuotaResponse struct {
	quota.Counter
	Entries []quota.Entry `json:"entries"`
}

// ledger resolves the {ledger} URL parameter, writing a 404 when unknown.
func (g *Gateway) ledger(w http.ResponseWriter, r *http.Request) (*quota.Ledger, bool) {
	l, err := g.ledgers.Get(chi.URLParam(r, "ledger"))
	if err != nil {
		g.writeError(w, r, codeNotFound, err)
		return nil, false
	}
	return l, true
}

// handleGetQuota returns the combined counter of a key and its durable
// reconciliation history for the current period.
func (g *Gateway) handleGetQuota() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, ok := g.ledger(w, r)
		if !ok {
			return
		}
		key := chi.URLParam(r, "key")
		ctr, err := l.Counter(r.Context(), key)
		if err != nil {
			g.writeError(w, r, relay.CodeInternal, err)
			return
		}
		entries, err := l.Entries(r.Context(), key)
		if err != nil {
			g.writeError(w, r, relay.CodeInternal, err)
			return
		}
		if entries == nil {
			entries = []quota.Entry{}
		}
		writeJSON(w, http.StatusOK, QuotaResponse{Counter: ctr, Entries: entries})
	}
}

// SyncResponse is the JSON response for POST /api/quota/{ledger}/sync.
type SyncResponse struct {
	Ledger  string             `json:"ledger"`
	Status  string             `json:"status"`
	Results []quota.SyncResult `json:"results,omitempty"`
}

// handleSyncQuota reconciles a ledger now. When a scheduler runs the
// ledger's sync job the run goes through it, so it never overlaps a
// scheduled run.
func (g *Gateway) handleSyncQuota() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, ok := g.ledger(w, r)
		if !ok {
			return
		}

		if g.scheduler != nil {
			err := g.scheduler.Trigger(r.Context(), cron.QuotaSyncJobName(l.Name()))
			switch {
			case errors.Is(err, cron.ErrJobRunning):
				g.writeError(w, r, codeConflict, err)
				return
			case err == nil:
				writeJSON(w, http.StatusOK, SyncResponse{Ledger: l.Name(), Status: "synced"})
				return
			case !errors.Is(err, cron.ErrUnknownJob):
				g.writeError(w, r, relay.CodeInternal, err)
				return
			}
		}

		results, err := l.SyncAll(r.Context())
		if err != nil {
			g.writeError(w, r, relay.CodeInternal, err)
			return
		}
		writeJSON(w, http.StatusOK, SyncResponse{Ledger: l.Name(), Status: "synced", Results: results})
	}
}

// ProviderHealth is one entry of GET /api/providers.
type ProviderHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "down" or "unchecked"
	Error  string `json:"error,omitempty"`
}

// handleProviders checks every provider instance that supports health
// checks.
func (g *Gateway) handleProviders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := []ProviderHealth{}
		if g.providers != nil {
			results := g.providers.HealthCheck(r.Context())
			for _, name := range g.providers.Names() {
				ph := ProviderHealth{Name: name, Status: "unchecked"}
				if err, checked := results[name]; checked {
					ph.Status = "ok"
					if err != nil {
						ph.Status = "down"
						ph.Error = g.redactor.Redact(err.Error())
					}
				}
				out = append(out, ph)
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// moduleJSON is a serializable module info snapshot.
type moduleJSON struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// handleGetAllModules lists all compiled modules (for /api/modules).
func (g *Gateway) handleGetAllModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mods := core.GetModules()
		out := make([]moduleJSON, 0, len(mods))
		for _, m := range mods {
			out = append(out, moduleJSON{
				ID:        string(m.ID),
				Namespace: m.ID.Namespace(),
				Name:      m.ID.Name(),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		writeJSON(w, http.StatusOK, out)
	}
}

// handleGetConfig returns the running configuration with secrets
// redacted.
func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.appConfig == nil {
			g.writeError(w, r, codeUnavailable, fmt.Errorf("config %w", errNotConfigured))
			return
		}

		// A YAML round trip flattens the raw provider and module nodes
		// into plain maps the redactor can walk.
		raw, err := yaml.Marshal(g.appConfig)
		if err != nil {
			g.writeError(w, r, relay.CodeInternal, err)
			return
		}
		var generic map[string]any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			g.writeError(w, r, relay.CodeInternal, err)
			return
		}
		if sec, ok := generic["security"].(map[string]any); ok {
			delete(sec, "secrets")
		}
		g.redactor.RedactMap(generic)

		writeJSON(w, http.StatusOK, generic)
	}
}
