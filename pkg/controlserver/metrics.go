package controlserver

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator/processstatemachine"
)

// Metrics exposes orchestrator state as Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	processesByState *prometheus.GaugeVec
	orchestratorUp   prometheus.Gauge
	requestsTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		processesByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_processes",
			Help: "Number of orchestrated processes by state.",
		}, []string{"state"}),
		orchestratorUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_running",
			Help: "Whether the orchestrator is in the running state.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_control_requests_total",
			Help: "Control API requests by route.",
		}, []string{"route"}),
	}

	m.registry.MustRegister(m.processesByState, m.orchestratorUp, m.requestsTotal)
	return m
}

// Registry returns the underlying Prometheus registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) countRequest(route string) {
	m.requestsTotal.WithLabelValues(route).Inc()
}

// observe resamples process and orchestrator state gauges
func (m *Metrics) observe(state orchestrator.OrchestratorState, statuses map[string]orchestrator.ProcessStatus) {
	counts := make(map[processstatemachine.ProcessState]int)
	for _, status := range statuses {
		counts[status.State]++
	}

	for _, processState := range processstatemachine.AllStates() {
		m.processesByState.WithLabelValues(string(processState)).Set(float64(counts[processState]))
	}

	if state == orchestrator.OrchestratorStateRunning {
		m.orchestratorUp.Set(1)
	} else {
		m.orchestratorUp.Set(0)
	}
}
