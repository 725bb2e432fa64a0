package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/hyperwatch/pkg/datastore"
	"github.com/cuemby/hyperwatch/pkg/metrics"
)

// LeaderChecker reports this replica's current standing in an optional
// pkg/cluster.Election. Declared locally (rather than imported) so pkg/api
// stays independent of pkg/cluster; *cluster.Election satisfies it by
// duck typing.
type LeaderChecker interface {
	IsLeader() bool
	LeaderAddress() string
}

// HealthServer provides the admin HTTP endpoints (spec.md has no protocol
// of its own for this; modeled on the teacher's health check server):
// /health (liveness), /ready (readiness), /metrics (Prometheus scrape).
type HealthServer struct {
	store   *datastore.Datastore
	leader  LeaderChecker
	version string
	mux     *http.ServeMux
}

// NewHealthServer builds a HealthServer. leader may be nil when the engine
// runs as a single replica with no Raft election configured.
func NewHealthServer(store *datastore.Datastore, leader LeaderChecker, version string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		store:   store,
		leader:  leader,
		version: version,
		mux:     mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start runs the admin HTTP server on addr. It blocks until the server
// stops or errors.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// HealthResponse is the /health response body.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// ReadyResponse is the /ready response body.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a pure liveness check: 200 as long as the process can
// answer HTTP requests at all. Component status from metrics.GetHealth is
// included for diagnostics but never affects the status code.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	components := metrics.GetHealth().Components

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    hs.version,
		Components: components,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler checks whether the engine is ready to dispatch: the
// datastore must be initialized, and if running under Raft-backed
// election, a leader must be known.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.leader != nil {
		if hs.leader.IsLeader() {
			checks["cluster"] = "leader"
		} else if addr := hs.leader.LeaderAddress(); addr != "" {
			checks["cluster"] = fmt.Sprintf("follower (leader: %s)", addr)
		} else {
			checks["cluster"] = "no leader elected"
			ready = false
			message = "waiting for leader election"
		}
	} else {
		checks["cluster"] = "single-replica"
	}

	if hs.store != nil {
		checks["datastore"] = "ok"
	} else {
		checks["datastore"] = "not initialized"
		ready = false
		if message == "" {
			message = "datastore not initialized"
		}
	}

	components := metrics.GetReadiness()
	checks["components"] = components.Status
	if components.Status != "ready" {
		ready = false
		if message == "" {
			message = components.Message
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler, for embedding in another server.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
