package mcpmgr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for connection state and routed
// calls. Create one per registerer with NewMetrics.
type Metrics struct {
	ServersByState     *prometheus.GaugeVec
	LifecycleOps       *prometheus.CounterVec
	CallsTotal         *prometheus.CounterVec
	CallDuration       *prometheus.HistogramVec
	ConfigSaveFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ServersByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcpstudio_servers",
			Help: "Number of registered MCP servers by connection state",
		}, []string{"state"}),
		LifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpstudio_lifecycle_operations_total",
			Help: "Lifecycle operations by kind and result",
		}, []string{"op", "result"}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpstudio_calls_total",
			Help: "Routed MCP calls by method and result",
		}, []string{"method", "result"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpstudio_call_duration_seconds",
			Help:    "Routed MCP call latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method"}),
		ConfigSaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpstudio_config_save_failures_total",
			Help: "Failed writes to the configuration store",
		}),
	}
	for _, s := range AllStates {
		m.ServersByState.WithLabelValues(string(s)).Set(0)
	}
	if reg != nil {
		reg.MustRegister(m.ServersByState, m.LifecycleOps, m.CallsTotal, m.CallDuration, m.ConfigSaveFailures)
	}
	return m
}

func (m *Metrics) stateChanged(from, to ConnectionState) {
	if m == nil {
		return
	}
	if from != "" {
		m.ServersByState.WithLabelValues(string(from)).Dec()
	}
	if to != "" {
		m.ServersByState.WithLabelValues(string(to)).Inc()
	}
}

func (m *Metrics) lifecycle(op string, err error) {
	if m == nil {
		return
	}
	m.LifecycleOps.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) call(method string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(method, resultLabel(err)).Inc()
	m.CallDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

func (m *Metrics) saveFailed() {
	if m == nil {
		return
	}
	m.ConfigSaveFailures.Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
