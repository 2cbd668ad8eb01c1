// Package metrics exposes Prometheus collectors for the gateway and keeps them
// current by listening on the lifecycle event bus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencode-ai/toolgate/internal/event"
)

const namespace = "toolgate"

// Metrics holds the gateway collectors.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	stop := m.Attach(bus)
//	defer stop()
//	router.Handle("/metrics", m.Handler())
type Metrics struct {
	registry *prometheus.Registry

	// ActiveSessions counts sessions currently held by the store.
	ActiveSessions prometheus.Gauge

	// SessionEvents counts session lifecycle transitions.
	// Labels: event (created|cleared|expired)
	SessionEvents *prometheus.CounterVec

	// ToolExecutions counts provider invocations.
	// Labels: provider, tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures provider invocation latency in seconds.
	// Labels: provider
	ToolDuration *prometheus.HistogramVec

	// BackendCalls counts reasoning backend requests.
	// Labels: status (success|error)
	BackendCalls *prometheus.CounterVec

	// BackendDuration measures reasoning backend latency in seconds.
	BackendDuration prometheus.Histogram

	// Permissions counts permission prompts and their resolutions.
	// Labels: decision (requested|granted|denied|superseded)
	Permissions *prometheus.CounterVec

	// Turns counts loop invocations by outcome.
	// Labels: outcome
	Turns *prometheus.CounterVec

	// StreamDrops counts frames that could not be written to a client.
	StreamDrops prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg creates a
// private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently held in memory",
		}),

		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle transitions",
		}, []string{"event"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Total number of tool invocations",
		}, []string{"provider", "tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_duration_seconds",
			Help:      "Duration of tool invocations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"provider"}),

		BackendCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of reasoning backend requests",
		}, []string{"status"}),

		BackendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Duration of reasoning backend requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		Permissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_decisions_total",
			Help:      "Permission prompts and their resolutions",
		}, []string{"decision"}),

		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Loop invocations by outcome",
		}, []string{"outcome"}),

		StreamDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_dropped_frames_total",
			Help:      "Frames that could not be written to a client stream",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Attach subscribes the collectors to bus. Publish delivers asynchronously,
// so counters may trail it slightly.
func (m *Metrics) Attach(bus *event.Bus) func() {
	return bus.SubscribeAll(m.Observe)
}

// Observe updates the collectors for a single event.
func (m *Metrics) Observe(e event.Event) {
	if m == nil {
		return
	}
	switch e.Type {
	case event.SessionCreated:
		m.SessionEvents.WithLabelValues("created").Inc()
		m.ActiveSessions.Inc()
	case event.SessionCleared:
		m.SessionEvents.WithLabelValues("cleared").Inc()
		m.ActiveSessions.Dec()
	case event.SessionExpired:
		m.SessionEvents.WithLabelValues("expired").Inc()
		m.ActiveSessions.Dec()

	case event.ToolExecuted:
		data, ok := e.Data.(event.ToolExecutedData)
		if !ok {
			return
		}
		m.ToolExecutions.WithLabelValues(data.ProviderID, data.Tool, status(data.Success)).Inc()
		m.ToolDuration.WithLabelValues(data.ProviderID).Observe(seconds(data.DurationMs))

	case event.BackendCall:
		data, ok := e.Data.(event.BackendCallData)
		if !ok {
			return
		}
		m.BackendCalls.WithLabelValues(status(data.Success)).Inc()
		m.BackendDuration.Observe(seconds(data.DurationMs))

	case event.PermissionRequested:
		m.Permissions.WithLabelValues("requested").Inc()
	case event.PermissionResolved:
		data, ok := e.Data.(event.PermissionResolvedData)
		if !ok {
			return
		}
		switch {
		case data.Superseded:
			m.Permissions.WithLabelValues("superseded").Inc()
		case data.Granted:
			m.Permissions.WithLabelValues("granted").Inc()
		default:
			m.Permissions.WithLabelValues("denied").Inc()
		}

	case event.TurnCompleted:
		data, ok := e.Data.(event.TurnCompletedData)
		if !ok {
			return
		}
		m.Turns.WithLabelValues(data.Outcome).Inc()

	case event.StreamDropped:
		m.StreamDrops.Inc()
	}
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func seconds(ms int64) float64 {
	return (time.Duration(ms) * time.Millisecond).Seconds()
}
