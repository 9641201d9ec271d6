package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration is read by internal/httpserver's Metrics middleware.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route", "status"},
)

var AgentsOnline = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "controlplane",
		Subsystem: "agents",
		Name:      "online",
		Help:      "Number of agents currently derived online, sampled on each sweep tick.",
	},
)

var DispatchEnqueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "dispatch",
		Name:      "enqueued_total",
		Help:      "Total work items enqueued to the dispatch table, by item type.",
	},
	[]string{"type"},
)

var DispatchPollTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "dispatch",
		Name:      "poll_total",
		Help:      "Total agent polls against the dispatch table, by outcome.",
	},
	[]string{"outcome"}, // hit | empty
)

var NoCapacityTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "dispatch",
		Name:      "no_capacity_total",
		Help:      "Total dispatch attempts that failed with NoCapacity, by network.",
	},
	[]string{"network_id"},
)

var SessionOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "sessions",
		Name:      "outcomes_total",
		Help:      "Total sessions reaching a terminal state, by outcome.",
	},
	[]string{"outcome"}, // completed | failed | cancelled
)

var SweepDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "sweeper",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one background sweeper tick across all networks.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	},
)

var SweepNetworkErrorsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "sweeper",
		Name:      "network_errors_total",
		Help:      "Total per-network failures swallowed by the sweeper loop.",
	},
)

var ReconcileDevicesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "reconcile",
		Name:      "devices_total",
		Help:      "Total devices reconciled, by outcome.",
	},
	[]string{"outcome"}, // upserted | error
)

var NotificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Total outbound ops notifications sent, by type.",
	},
	[]string{"type"},
)

// All returns every control-plane metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		AgentsOnline,
		DispatchEnqueuedTotal,
		DispatchPollTotal,
		NoCapacityTotal,
		SessionOutcomesTotal,
		SweepDuration,
		SweepNetworkErrorsTotal,
		ReconcileDevicesTotal,
		NotificationsTotal,
	}
}

// NewMetricsRegistry builds a fresh prometheus registry carrying the Go
// runtime/process collectors plus any extra collectors passed in (normally
// the result of All()).
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
