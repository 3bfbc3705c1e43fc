package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackd_runs_total",
			Help: "Total number of orchestration runs by outcome",
		},
		[]string{"status"},
	)

	ServicesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackd_services_running",
			Help: "Number of services currently in the running state",
		},
	)

	ServiceStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stackd_service_start_duration_seconds",
			Help:    "Time from service start to running in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Readiness metrics
	ReadinessWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stackd_readiness_wait_seconds",
			Help:    "Time spent waiting for readiness probes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Volume metrics
	VolumesEnsuredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackd_volumes_ensured_total",
			Help: "Total number of volume ensure operations by outcome",
		},
		[]string{"outcome"},
	)

	// Init script metrics
	InitScriptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackd_init_scripts_total",
			Help: "Total number of init script executions by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(ServicesRunning)
	prometheus.MustRegister(ServiceStartDuration)
	prometheus.MustRegister(ReadinessWaitSeconds)
	prometheus.MustRegister(VolumesEnsuredTotal)
	prometheus.MustRegister(InitScriptsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
