// Package metrics exposes Prometheus instrumentation for the core
// components (connections, fan-out, lane queues, errors) plus host/process
// sampling taken on the same liveness tick that scans stale peers, so the
// process carries one periodic task instead of two (SPEC_FULL.md §5).
// Grounded on go-server/internal/metrics/metrics.go's promauto-built
// struct-of-metrics shape and go-server-2/server.go's gopsutil sampling
// loop.
package metrics

import (
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// Metrics holds every Prometheus collector the core reports through.
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	ConnectionsRejected *prometheus.CounterVec // label: reason

	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	FanOutSize       prometheus.Histogram

	LaneQueueDepth  *prometheus.GaugeVec // label: lane
	RateLimited     prometheus.Counter
	StalePeersTotal prometheus.Counter

	DatabaseErrors prometheus.Counter
	SendErrors     prometheus.Counter

	ProcessCPUPercent prometheus.Gauge
	ProcessMemBytes   prometheus.Gauge
	Goroutines        prometheus.Gauge

	proc *process.Process
}

// New registers and returns the metric set against the default registerer.
func New() *Metrics {
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worldql_connections_total",
			Help: "Total number of peer connections admitted to the registry.",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worldql_connections_active",
			Help: "Number of peers currently registered.",
		}),
		ConnectionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worldql_connections_rejected_total",
			Help: "Handshake attempts rejected, by reason.",
		}, []string{"reason"}),

		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worldql_messages_received_total",
			Help: "Authenticated envelopes accepted by the router.",
		}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worldql_messages_sent_total",
			Help: "Frames handed to a transport Send call.",
		}),
		FanOutSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worldql_fan_out_recipients",
			Help:    "Number of recipients per broadcast/fan-out call.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		LaneQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worldql_lane_queue_depth",
			Help: "Buffered jobs waiting in a pipeline lane's channel.",
		}, []string{"lane"}),
		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worldql_rate_limited_total",
			Help: "Envelopes dropped by the per-peer rate limiter.",
		}),
		StalePeersTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worldql_stale_peers_total",
			Help: "Peers removed by the liveness scan for missing heartbeats.",
		}),

		DatabaseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worldql_database_errors_total",
			Help: "Record store calls that returned an error.",
		}),
		SendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worldql_send_errors_total",
			Help: "Transport Send calls that returned an error during fan-out.",
		}),

		ProcessCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worldql_process_cpu_percent",
			Help: "Process CPU utilization, sampled on the liveness tick.",
		}),
		ProcessMemBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worldql_process_memory_bytes",
			Help: "Process resident memory, sampled on the liveness tick.",
		}),
		Goroutines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worldql_goroutines",
			Help: "Live goroutine count, sampled on the liveness tick.",
		}),

		proc: proc,
	}
}

// The Inc*/Set*/Observe* methods below are nil-receiver safe, mirroring
// auth.Verifier's nil-safe Required(): a nil *Metrics (no metrics wired,
// as in most unit tests) makes every call here a no-op instead of a
// panic, so callers never need a separate "metrics enabled" check.

// IncConnectionsTotal counts a peer admitted to the registry.
func (m *Metrics) IncConnectionsTotal() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
}

// IncConnectionsRejected counts a handshake rejected before admission,
// labeled by reason.
func (m *Metrics) IncConnectionsRejected(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

// SetConnectionsActive reports the current registry size.
func (m *Metrics) SetConnectionsActive(n int) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Set(float64(n))
}

// IncMessagesReceived counts an authenticated envelope accepted by the
// router.
func (m *Metrics) IncMessagesReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

// IncMessagesSent counts a frame handed to a transport Send call.
func (m *Metrics) IncMessagesSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

// ObserveFanOut records the recipient count of a single broadcast/fan-out
// call.
func (m *Metrics) ObserveFanOut(n int) {
	if m == nil {
		return
	}
	m.FanOutSize.Observe(float64(n))
}

// SetLaneQueueDepth reports how many jobs are buffered in the named
// pipeline lane's channel.
func (m *Metrics) SetLaneQueueDepth(lane string, depth int) {
	if m == nil {
		return
	}
	m.LaneQueueDepth.WithLabelValues(lane).Set(float64(depth))
}

// IncRateLimited counts an envelope dropped by the per-peer rate limiter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// IncStalePeers counts a peer removed by the liveness scan.
func (m *Metrics) IncStalePeers() {
	if m == nil {
		return
	}
	m.StalePeersTotal.Inc()
}

// IncDatabaseErrors counts a record store call that returned an error.
func (m *Metrics) IncDatabaseErrors() {
	if m == nil {
		return
	}
	m.DatabaseErrors.Inc()
}

// IncSendErrors counts a transport Send call that failed during fan-out.
func (m *Metrics) IncSendErrors() {
	if m == nil {
		return
	}
	m.SendErrors.Inc()
}

// SampleHost refreshes the process CPU/memory/goroutine gauges. Called
// from the liveness tick alongside the stale-peer scan (SPEC_FULL.md §5),
// never from a dedicated goroutine.
func (m *Metrics) SampleHost() {
	if m == nil {
		return
	}
	m.Goroutines.Set(float64(runtime.NumGoroutine()))

	if m.proc == nil {
		return
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.ProcessCPUPercent.Set(pct[0])
	}
	if info, err := m.proc.MemoryInfo(); err == nil && info != nil {
		m.ProcessMemBytes.Set(float64(info.RSS))
	}
}
