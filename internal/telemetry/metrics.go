package telemetry

import "github.com/prometheus/client_golang/prometheus"

var TokensIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sase",
		Subsystem: "token",
		Name:      "issued_total",
		Help:      "Total number of access/refresh token pairs issued, by node type.",
	},
	[]string{"node_type"},
)

var TokensRevokedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sase",
		Subsystem: "token",
		Name:      "revoked_total",
		Help:      "Total number of tokens revoked, individually or via revoke-all.",
	},
)

var TokenValidationTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sase",
		Subsystem: "token",
		Name:      "validation_total",
		Help:      "Total number of token validations, by outcome.",
	},
	[]string{"outcome"},
)

var ClustersActiveGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "sase",
		Subsystem: "cluster",
		Name:      "active",
		Help:      "Number of clusters currently in active status.",
	},
)

var ClientsTotalGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "sase",
		Subsystem: "client",
		Name:      "total",
		Help:      "Number of registered clients, by status.",
	},
	[]string{"status"},
)

var WireGuardAllocationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sase",
		Subsystem: "ipam",
		Name:      "allocations_total",
		Help:      "Total number of WireGuard overlay IP allocations performed.",
	},
)

var CertificatesIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sase",
		Subsystem: "ca",
		Name:      "certificates_issued_total",
		Help:      "Total number of X.509 leaf certificates issued, by node type.",
	},
	[]string{"node_type"},
)

var PolicyDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sase",
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Total number of policy matching decisions, by result.",
	},
	[]string{"result"},
)

var RuleCacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sase",
		Subsystem: "rulecache",
		Name:      "requests_total",
		Help:      "Total number of rule cache lookups, by outcome (hit, miss, fallthrough).",
	},
	[]string{"outcome"},
)

var ThreatFeedIngestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sase",
		Subsystem: "threatfeed",
		Name:      "ingest_duration_seconds",
		Help:      "Threat feed ingestion tick duration in seconds, by source.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	},
	[]string{"source"},
)

var ThreatIndicatorsTotal = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "sase",
		Subsystem: "threatfeed",
		Name:      "indicators_total",
		Help:      "Number of active threat indicators, by source.",
	},
	[]string{"source"},
)

var ThreatLookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sase",
		Subsystem: "threatfeed",
		Name:      "lookups_total",
		Help:      "Total number of threat indicator lookups, by match type.",
	},
	[]string{"match_type"},
)

var RequestsRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sase",
		Subsystem: "guard",
		Name:      "requests_rejected_total",
		Help:      "Total number of requests rejected by the request guard, by reason.",
	},
	[]string{"reason"},
)

var EmergencyModeActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "sase",
		Subsystem: "guard",
		Name:      "emergency_mode_active",
		Help:      "1 if emergency mode is currently active, 0 otherwise.",
	},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sase",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds, by route and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"route", "method", "status"},
)

// All returns every control-plane metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		TokensIssuedTotal,
		TokensRevokedTotal,
		TokenValidationTotal,
		ClustersActiveGauge,
		ClientsTotalGauge,
		WireGuardAllocationsTotal,
		CertificatesIssuedTotal,
		PolicyDecisionsTotal,
		RuleCacheHitsTotal,
		ThreatFeedIngestDuration,
		ThreatIndicatorsTotal,
		ThreatLookupsTotal,
		RequestsRejectedTotal,
		EmergencyModeActive,
		HTTPRequestDuration,
	}
}

// NewMetricsRegistry builds a fresh Prometheus registry with every
// control-plane metric plus the standard process/Go collectors registered.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
