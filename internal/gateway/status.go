package gateway

import (
	"net/http"
	"time"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime    int64           `json:"uptime_seconds"`
	Metrics   MetricsSnapshot `json:"metrics"`
	Providers []string        `json:"providers"`
	Ledgers   []string        `json:"ledgers"`
	Jobs      []string        `json:"jobs"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:    int64(g.now().Sub(g.startedAt) / time.Second),
			Metrics:   g.stats.Snapshot(),
			Providers: []string{},
			Ledgers:   g.ledgers.Names(),
			Jobs:      []string{},
		}
		if g.providers != nil {
			resp.Providers = g.providers.Names()
		}
		if g.scheduler != nil {
			resp.Jobs = g.scheduler.Jobs()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
