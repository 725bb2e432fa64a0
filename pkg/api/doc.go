/*
Package api implements hyperwatch's admin HTTP surface: a small,
unauthenticated read-only server for operational tooling, distinct from the
manager protocols pkg/manager speaks to remote destinations.

# Architecture

	┌──────────────── hyperwatchd process ───────────────┐
	│                                                      │
	│  pkg/executor ── drives source/destination workers   │
	│       │                                               │
	│       ▼                                               │
	│  pkg/metrics ── counters/gauges/histograms            │
	│       │                                               │
	│  pkg/api.HealthServer                                 │
	│    GET /health   liveness, always 200 while serving   │
	│    GET /ready    leader/datastore readiness           │
	│    GET /metrics  Prometheus scrape (pkg/metrics)      │
	└──────────────────────────────────────────────────────┘

/ready reports "single-replica" for pkg/cluster when no Election is
configured (the common case: spec.md's engine has no built-in notion of
replicas), and leader/follower status when one is. Both handlers also fold
in pkg/metrics' component health registry (registered by pkg/executor and
cmd/hyperwatchd at startup): /health reports it for diagnostics only, /ready
treats any unhealthy critical component as not ready.

# Usage

	hs := api.NewHealthServer(store, election, version)
	go hs.Start(":9090")
*/
package api
