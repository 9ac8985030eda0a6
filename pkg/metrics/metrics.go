package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Environment metrics
	EnvironmentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "envforge_environments_total",
			Help: "Total number of environments by status",
		},
		[]string{"status"},
	)

	TemplatesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "envforge_templates_total",
			Help: "Total number of templates",
		},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "envforge_containers_total",
			Help: "Total number of container instances by state",
		},
		[]string{"state"},
	)

	ArchivesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "envforge_archives_total",
			Help: "Total number of workspace archives",
		},
	)

	PortsFree = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "envforge_ports_free",
			Help: "Number of host ports currently unallocated",
		},
	)

	// Host resource metrics (Resource Guard)
	HostCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "envforge_host_cpu_percent",
			Help: "Last sampled host CPU utilization percentage",
		},
	)

	HostMemPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "envforge_host_mem_percent",
			Help: "Last sampled host memory utilization percentage",
		},
	)

	HostDiskPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "envforge_host_disk_percent",
			Help: "Last sampled host disk utilization percentage",
		},
	)

	AdmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envforge_admission_rejections_total",
			Help: "Total number of environment placements rejected, by reason",
		},
		[]string{"reason"},
	)

	// Environment lifecycle operation durations
	EnvironmentCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envforge_environment_create_duration_seconds",
			Help:    "Time taken to create an environment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EnvironmentStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envforge_environment_start_duration_seconds",
			Help:    "Time taken to start an environment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EnvironmentStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envforge_environment_stop_duration_seconds",
			Help:    "Time taken to stop an environment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EnvironmentDeleteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envforge_environment_delete_duration_seconds",
			Help:    "Time taken to delete an environment in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	EnvironmentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envforge_environment_transitions_total",
			Help: "Total number of environment state transitions, by from and to status",
		},
		[]string{"from", "to"},
	)

	// Container operation durations
	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envforge_container_start_duration_seconds",
			Help:    "Time taken to start a container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envforge_container_stop_duration_seconds",
			Help:    "Time taken to stop a container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// IaaS Driver operation durations
	IaaSApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envforge_iaas_apply_duration_seconds",
			Help:    "Time taken for an IaaS apply step in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	IaaSDestroyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envforge_iaas_destroy_duration_seconds",
			Help:    "Time taken for an IaaS destroy step in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	IaaSFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envforge_iaas_failures_total",
			Help: "Total number of IaaS tool invocation failures, by step",
		},
		[]string{"step"},
	)

	// Reaper metrics
	ReaperCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envforge_reaper_cycles_total",
			Help: "Total number of reaper scan cycles completed, by scan",
		},
		[]string{"scan"},
	)

	ReaperActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envforge_reaper_actions_total",
			Help: "Total number of reaper-initiated actions, by scan and action",
		},
		[]string{"scan", "action"},
	)

	// Notifier metrics
	NotifierSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "envforge_notifier_sessions_active",
			Help: "Number of currently connected notifier sessions",
		},
	)

	NotifierDroppedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "envforge_notifier_dropped_events_total",
			Help: "Total number of events dropped because a subscriber's queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(EnvironmentsTotal)
	prometheus.MustRegister(TemplatesTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(ArchivesTotal)
	prometheus.MustRegister(PortsFree)
	prometheus.MustRegister(HostCPUPercent)
	prometheus.MustRegister(HostMemPercent)
	prometheus.MustRegister(HostDiskPercent)
	prometheus.MustRegister(AdmissionRejectionsTotal)

	prometheus.MustRegister(EnvironmentCreateDuration)
	prometheus.MustRegister(EnvironmentStartDuration)
	prometheus.MustRegister(EnvironmentStopDuration)
	prometheus.MustRegister(EnvironmentDeleteDuration)
	prometheus.MustRegister(EnvironmentTransitionsTotal)

	prometheus.MustRegister(ContainerStartDuration)
	prometheus.MustRegister(ContainerStopDuration)

	prometheus.MustRegister(IaaSApplyDuration)
	prometheus.MustRegister(IaaSDestroyDuration)
	prometheus.MustRegister(IaaSFailuresTotal)

	prometheus.MustRegister(ReaperCyclesTotal)
	prometheus.MustRegister(ReaperActionsTotal)

	prometheus.MustRegister(NotifierSessionsActive)
	prometheus.MustRegister(NotifierDroppedEventsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the Timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
