package gateway

import (
	"net/http"
	"slices"
	"strings"
)

// RouteHealth summarizes the arms serving one (capability, model) pair.
type RouteHealth struct {
	Capability string `json:"capability"`
	Model      string `json:"model"`
	Arms       int    `json:"arms"`
	Available  int    `json:"available"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status string        `json:"status"` // "ok" or "degraded"
	Routes []RouteHealth `json:"routes"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 if every route has an available arm, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Routes: []RouteHealth{}}

		if g.router != nil {
			snaps, err := g.router.Snapshot(r.Context(), "", "")
			if err != nil {
				g.writeError(w, r, codeUnavailable, err)
				return
			}
			byRoute := make(map[[2]string]*RouteHealth)
			for _, s := range snaps {
				k := [2]string{s.Capability, s.Model}
				rh, ok := byRoute[k]
				if !ok {
					rh = &RouteHealth{Capability: s.Capability, Model: s.Model}
					byRoute[k] = rh
				}
				rh.Arms++
				if s.Available {
					rh.Available++
				}
			}
			for _, rh := range byRoute {
				resp.Routes = append(resp.Routes, *rh)
				if rh.Available == 0 {
					resp.Status = "degraded"
				}
			}
			slices.SortFunc(resp.Routes, func(a, b RouteHealth) int {
				if c := strings.Compare(a.Capability, b.Capability); c != 0 {
					return c
				}
				return strings.Compare(a.Model, b.Model)
			})
		}

		code := http.StatusOK
		if resp.Status == "degraded" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}
