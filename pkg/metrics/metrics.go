package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet-level metrics.
	HostsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pvefleet_hosts_total",
			Help: "Total number of hosts in the manifest, by final state",
		},
		[]string{"final_state"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvefleet_run_duration_seconds",
			Help:    "Wall-clock duration of a full fleet run in seconds",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		},
	)

	ConcurrentHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvefleet_concurrent_hosts",
			Help: "Number of hosts currently being maintained in parallel",
		},
	)

	// Host workflow metrics.
	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pvefleet_phase_duration_seconds",
			Help:    "Time spent in a single host workflow phase, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	PhaseResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvefleet_phase_results_total",
			Help: "Total phase completions by phase and status",
		},
		[]string{"phase", "status"},
	)

	HostDeadlineExceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pvefleet_host_deadline_exceeded_total",
			Help: "Total number of hosts that exceeded their shutdown or reboot deadline",
		},
	)

	// Guest upgrade metrics.
	GuestUpgradeAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pvefleet_guest_upgrade_attempts_total",
			Help: "Total number of guest package-upgrade attempts",
		},
	)

	GuestUpgradeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvefleet_guest_upgrade_failures_total",
			Help: "Total number of guest package-upgrade failures, by OS family",
		},
		[]string{"family"},
	)

	GuestUpgradeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvefleet_guest_upgrade_duration_seconds",
			Help:    "Time taken to run the upgrade command on one guest, in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	GuestsDrainedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvefleet_guests_drained_total",
			Help: "Total number of guests shut down before a host reboot, by method",
		},
		[]string{"method"}, // "graceful" or "force"
	)

	// Proxmox API client metrics.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvefleet_api_requests_total",
			Help: "Total Proxmox API requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pvefleet_api_request_duration_seconds",
			Help:    "Proxmox API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	APIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvefleet_api_retries_total",
			Help: "Total Proxmox API request retries by operation",
		},
		[]string{"operation"},
	)

	// Remote session (SSH) metrics.
	SSHSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvefleet_ssh_sessions_total",
			Help: "Total SSH sessions opened, by target kind and outcome",
		},
		[]string{"target", "outcome"}, // target: "host" or "guest"
	)

	// Reachability polling metrics.
	ReachabilityChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvefleet_reachability_checks_total",
			Help: "Total reachability poll attempts by checker type and result",
		},
		[]string{"checker", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		HostsTotal,
		RunDuration,
		ConcurrentHosts,
		PhaseDuration,
		PhaseResultsTotal,
		HostDeadlineExceededTotal,
		GuestUpgradeAttemptsTotal,
		GuestUpgradeFailuresTotal,
		GuestUpgradeDuration,
		GuestsDrainedTotal,
		APIRequestsTotal,
		APIRequestDuration,
		APIRetriesTotal,
		SSHSessionsTotal,
		ReachabilityChecksTotal,
	)
}

// Handler returns the Prometheus HTTP handler, exposed by the CLI only
// when a metrics listen address is configured.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
