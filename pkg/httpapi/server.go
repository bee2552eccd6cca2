// Package httpapi implements the REST surface: a net/http ServeMux router
// with the ingestion route, the two paginated query routes, the
// single-decision fetch, and health. Error responses use the
// {code, message, field_path?} envelope via pkg/apierror.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/meridianlabs/licl/pkg/decisionstore"
	"github.com/meridianlabs/licl/pkg/orchestrator"
	"github.com/meridianlabs/licl/pkg/signallog"
)

// HealthInfo is the process-wide, load-time-fixed information GET /health
// reports alongside liveness: the policy content hash, the configured
// storage engine, and process start time for an uptime figure.
type HealthInfo struct {
	PolicyHash    string
	StorageDriver string
	StartedAt     time.Time
}

// Server holds the pipeline dependencies the HTTP routes read or write
// through.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	signals      signallog.Store
	decisions    decisionstore.Store
	health       HealthInfo
}

// New wires a Server to its backing stages. health may be the zero value in
// tests that don't care about the reported policy hash/storage driver; a
// zero StartedAt reports zero uptime rather than a bogus duration.
func New(o *orchestrator.Orchestrator, signals signallog.Store, decisions decisionstore.Store, health HealthInfo) *Server {
	return &Server{orchestrator: o, signals: signals, decisions: decisions, health: health}
}

// Router builds the net/http.ServeMux for every route this Server serves.
// Pattern-based method matching ("POST /v1/signals") requires Go 1.22+'s
// enhanced ServeMux routing.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/signals", s.handleIngestSignal)
	mux.HandleFunc("GET /v1/signals", s.handleQuerySignals)
	mux.HandleFunc("GET /v1/decisions", s.handleQueryDecisions)
	mux.HandleFunc("GET /v1/decisions/{decision_id}", s.handleGetDecision)
	return mux
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	PolicyHash    string `json:"policy_hash,omitempty"`
	StorageDriver string `json:"storage_driver,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime int64
	if !s.health.StartedAt.IsZero() {
		uptime = int64(time.Since(s.health.StartedAt).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:        "ok",
		UptimeSeconds: uptime,
		PolicyHash:    s.health.PolicyHash,
		StorageDriver: s.health.StorageDriver,
	})
}
