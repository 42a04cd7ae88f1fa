package gateway

import (
	"sync/atomic"
	"time"

	"github.com/flemzord/sgate/internal/relay"
)

// Metrics tracks gateway-level counters for /status using atomic
// operations. Prometheus series live in telemetry.Metrics.
type Metrics struct {
	completions  atomic.Int64
	streams      atomic.Int64
	errors       atomic.Int64
	canceled     atomic.Int64
	totalTokens  atomic.Int64
	totalLatency atomic.Int64 // nanoseconds
}

// RecordCompletion records a successfully served request.
func (m *Metrics) RecordCompletion(tokens int, latency time.Duration) {
	m.completions.Add(1)
	m.totalTokens.Add(int64(tokens))
	m.totalLatency.Add(int64(latency))
}

// RecordStream records a request served as a stream, SSE or websocket.
func (m *Metrics) RecordStream() {
	m.streams.Add(1)
}

// RecordError records a failed request. Cancellations are counted apart.
func (m *Metrics) RecordError(code string) {
	if code == relay.CodeCanceled {
		m.canceled.Add(1)
		return
	}
	m.errors.Add(1)
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	completions := m.completions.Load()
	snap := MetricsSnapshot{
		Completions: completions,
		Streams:     m.streams.Load(),
		Errors:      m.errors.Load(),
		Canceled:    m.canceled.Load(),
		TotalTokens: m.totalTokens.Load(),
	}
	if completions > 0 {
		snap.AvgLatency = time.Duration(m.totalLatency.Load() / completions)
	}
	return snap
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Completions int64         `json:"completions"`
	Streams     int64         `json:"streams"`
	Errors      int64         `json:"errors"`
	Canceled    int64         `json:"canceled"`
	TotalTokens int64         `json:"total_tokens"`
	AvgLatency  time.Duration `json:"avg_latency_ns"`
}
