// Package metrics exposes agentcore's prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ToolInvocations  *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	HookOutcomes     *prometheus.CounterVec
	ActiveRuns       prometheus.Gauge
	QueuedMessages   prometheus.Counter
	Approvals        *prometheus.CounterVec
	PendingApprovals prometheus.Gauge
	BackgroundProcs  prometheus.Gauge
	ProcessTimeouts  prometheus.Counter
	ProviderRequests *prometheus.CounterVec
	ProviderRetries  prometheus.Counter
	TokensTotal      prometheus.Counter
	CheckpointsSaved prometheus.Counter
	StreamClients    prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Get returns the process-wide collectors, registering them on first use.
func Get() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ToolInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "agentcore_tool_invocations_total",
				Help: "Tool invocations by tool and final status",
			}, []string{"tool", "status"}),
			ToolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "agentcore_tool_duration_seconds",
				Help:    "Tool invocation latency",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 9),
			}, []string{"tool"}),
			HookOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "agentcore_hook_outcomes_total",
				Help: "Hook outcomes by event and kind",
			}, []string{"event", "kind"}),
			ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "agentcore_active_runs",
				Help: "Agent runs currently executing",
			}),
			QueuedMessages: promauto.NewCounter(prometheus.CounterOpts{
				Name: "agentcore_queued_messages_total",
				Help: "Messages queued behind an active run",
			}),
			Approvals: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "agentcore_approvals_total",
				Help: "Resolved approval requests by kind and decision",
			}, []string{"kind", "decision"}),
			PendingApprovals: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "agentcore_pending_approvals",
				Help: "Approval requests waiting for a decision",
			}),
			BackgroundProcs: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "agentcore_background_processes",
				Help: "Running background processes",
			}),
			ProcessTimeouts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "agentcore_process_idle_timeouts_total",
				Help: "Foreground commands killed for inactivity",
			}),
			ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "agentcore_provider_requests_total",
				Help: "LLM requests by provider and result",
			}, []string{"provider", "result"}),
			ProviderRetries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "agentcore_provider_retries_total",
				Help: "LLM request retries",
			}),
			TokensTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "agentcore_tokens_total",
				Help: "Tokens consumed across sessions",
			}),
			CheckpointsSaved: promauto.NewCounter(prometheus.CounterOpts{
				Name: "agentcore_checkpoints_saved_total",
				Help: "Checkpoints written",
			}),
			StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "agentcore_stream_clients",
				Help: "Connected websocket event stream clients",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) RecordTool(tool, status string, d time.Duration) {
	if m == nil || m.ToolInvocations == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) RecordHook(event, kind string) {
	if m == nil || m.HookOutcomes == nil {
		return
	}
	m.HookOutcomes.WithLabelValues(event, kind).Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil || m.ActiveRuns == nil {
		return
	}
	m.ActiveRuns.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil || m.ActiveRuns == nil {
		return
	}
	m.ActiveRuns.Dec()
}

func (m *Metrics) RecordQueued() {
	if m == nil || m.QueuedMessages == nil {
		return
	}
	m.QueuedMessages.Inc()
}

func (m *Metrics) ApprovalPending(delta float64) {
	if m == nil || m.PendingApprovals == nil {
		return
	}
	m.PendingApprovals.Add(delta)
}

func (m *Metrics) RecordApproval(kind string, approved bool) {
	if m == nil || m.Approvals == nil {
		return
	}
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	m.Approvals.WithLabelValues(kind, decision).Inc()
}

func (m *Metrics) BackgroundDelta(delta float64) {
	if m == nil || m.BackgroundProcs == nil {
		return
	}
	m.BackgroundProcs.Add(delta)
}

func (m *Metrics) RecordIdleTimeout() {
	if m == nil || m.ProcessTimeouts == nil {
		return
	}
	m.ProcessTimeouts.Inc()
}

func (m *Metrics) RecordProviderRequest(provider string, err error) {
	if m == nil || m.ProviderRequests == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderRequests.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) RecordRetry() {
	if m == nil || m.ProviderRetries == nil {
		return
	}
	m.ProviderRetries.Inc()
}

func (m *Metrics) AddTokens(n int64) {
	if m == nil || m.TokensTotal == nil || n <= 0 {
		return
	}
	m.TokensTotal.Add(float64(n))
}

func (m *Metrics) RecordCheckpoint() {
	if m == nil || m.CheckpointsSaved == nil {
		return
	}
	m.CheckpointsSaved.Inc()
}

func (m *Metrics) StreamClientDelta(delta float64) {
	if m == nil || m.StreamClients == nil {
		return
	}
	m.StreamClients.Add(delta)
}
