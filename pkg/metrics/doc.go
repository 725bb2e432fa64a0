/*
Package metrics provides Prometheus metrics collection and exposition for
hyperwatch, along with the component health registry (GetHealth,
GetReadiness) that pkg/api's /health and /ready handlers consult. This
package serves no HTTP routes of its own besides the scrape Handler.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Dispatch: reports sent, dedup, throttle    │          │
	│  │  Source: guest/hypervisor counts, errors    │          │
	│  │  Cluster: Raft leadership, consumers        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Endpoints                     │          │
	│  │  - /metrics: Prometheus text exposition     │          │
	│  │  - /health, /ready: served by pkg/api       │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

hyperwatch_reports_dispatched_total{destination,kind}:
  - Type: Counter
  - Description: Reports successfully delivered to a destination

hyperwatch_reports_dedup_skipped_total{source}:
  - Type: Counter
  - Description: Reports skipped because their content hash matched the
    last report delivered for that source

hyperwatch_throttle_retries_total{destination,operation}:
  - Type: Counter
  - Description: 429 responses observed from a destination manager call

hyperwatch_fatal_errors_total{destination}:
  - Type: Counter
  - Description: Non-recoverable manager errors observed

hyperwatch_source_errors_total{source}:
  - Type: Counter
  - Description: Source worker cycles that failed and produced an
    ErrorReport in place of real data

hyperwatch_guests_reported{source}:
  - Type: Gauge
  - Description: Guest count in the most recently gathered report

hyperwatch_hypervisors_reported{source}:
  - Type: Gauge
  - Description: Hypervisor count in the most recently gathered
    association report

hyperwatch_consumers_total:
  - Type: Gauge
  - Description: Hypervisors with at least one reachable destination
    consumer, sampled from the datastore every 15s by Collector

hyperwatch_raft_is_leader:
  - Type: Gauge
  - Description: Whether this replica holds leadership in an optional
    pkg/cluster.Election (1 = leader, 0 = follower)

hyperwatch_checkin_duration_seconds{destination}:
  - Type: Histogram
  - Description: Duration of HypervisorCheckIn calls

hyperwatch_source_cycle_duration_seconds{source}:
  - Type: Histogram
  - Description: Duration of one interval-worker cycle, labelled with the
    worker's config name (destination workers' cycles are recorded too)

# Usage

	timer := metrics.NewTimer()
	err := mgr.HypervisorCheckIn(ctx, r, opts)
	timer.ObserveDurationVec(metrics.CheckinDuration, cfg.Name)
	if err == nil {
		metrics.ReportsDispatchedTotal.WithLabelValues(cfg.Name, "association").Inc()
	}

# Integration Points

  - pkg/worker: updates dispatch, dedup, throttle, fatal and cycle metrics
  - pkg/executor: drives source/destination worker lifecycles these metrics observe
  - pkg/cluster: Election satisfies the LeaderChecker interface Collector polls
  - pkg/api: serves Handler() and its own /health and /ready handlers,
    which read GetHealth/GetReadiness
*/
package metrics
