// Package metrics exposes hyperwatch's runtime counters and gauges over
// Prometheus (SPEC_FULL.md §11: ambient observability, no engine
// semantics). Every worker and the executor take a zerolog.Logger through
// their constructor but read these package-level collectors directly,
// matching the teacher's own package-global metrics convention.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReportsDispatchedTotal counts reports successfully delivered to a
	// remote manager, by destination and report kind.
	ReportsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperwatch_reports_dispatched_total",
			Help: "Total number of reports successfully delivered to a destination",
		},
		[]string{"destination", "kind"},
	)

	// ReportsDedupSkippedTotal counts cycles where a source's report was
	// identical to the last successfully delivered one and was skipped.
	ReportsDedupSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperwatch_reports_dedup_skipped_total",
			Help: "Total number of reports skipped because their content hash matched the last delivered report",
		},
		[]string{"source"},
	)

	// ThrottleRetriesTotal counts 429 responses observed from a manager
	// call, by destination and the manager method that was throttled.
	ThrottleRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperwatch_throttle_retries_total",
			Help: "Total number of 429 throttle responses observed from a destination",
		},
		[]string{"destination", "operation"},
	)

	// FatalErrorsTotal counts non-recoverable manager errors observed.
	FatalErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperwatch_fatal_errors_total",
			Help: "Total number of fatal manager errors observed by a destination",
		},
		[]string{"destination"},
	)

	// SourceErrorsTotal counts cycles where a source worker's GetData
	// failed or panicked and an ErrorReport was produced in its place.
	SourceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperwatch_source_errors_total",
			Help: "Total number of source worker cycles that failed and produced an ErrorReport",
		},
		[]string{"source"},
	)

	// GuestsReported is the guest count in the most recent report
	// published by a source.
	GuestsReported = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperwatch_guests_reported",
			Help: "Number of guests in the most recently gathered report for a source",
		},
		[]string{"source"},
	)

	// HypervisorsReported is the hypervisor count in the most recent
	// HostGuestAssociationReport published by a source.
	HypervisorsReported = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperwatch_hypervisors_reported",
			Help: "Number of hypervisors in the most recently gathered association report for a source",
		},
		[]string{"source"},
	)

	// ConsumersTotal is the number of hypervisor UUIDs currently reachable
	// by at least one destination (datastore["consumers"]).
	ConsumersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperwatch_consumers_total",
			Help: "Number of hypervisors with at least one reachable destination consumer",
		},
	)

	// RaftIsLeader reports whether this replica currently holds leadership
	// in an optional pkg/cluster.Election (1 = leader, 0 = follower).
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperwatch_raft_is_leader",
			Help: "Whether this replica is the Raft leader for destination dispatch (1 = leader, 0 = follower)",
		},
	)

	// CheckinDuration times HypervisorCheckIn calls, by destination.
	CheckinDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hyperwatch_checkin_duration_seconds",
			Help:    "Duration of HypervisorCheckIn calls against a destination manager",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"destination"},
	)

	// SourceCycleDuration times an interval worker's GetData+SendData cycle,
	// labelled with the worker's config name. Every IntervalWorker records
	// it, destination workers included.
	SourceCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hyperwatch_source_cycle_duration_seconds",
			Help:    "Duration of one source worker gather-and-publish cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		ReportsDispatchedTotal,
		ReportsDedupSkippedTotal,
		ThrottleRetriesTotal,
		FatalErrorsTotal,
		SourceErrorsTotal,
		GuestsReported,
		HypervisorsReported,
		ConsumersTotal,
		RaftIsLeader,
		CheckinDuration,
		SourceCycleDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing an in-flight operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
