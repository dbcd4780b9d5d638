// Package admin exposes a small JSON HTTP surface for operating a
// running shardgate process: liveness, current cluster topology, and
// pool/worker counters. It deliberately carries no HTML dashboard —
// unlike the migration tool this project descends from, there is no
// long-running task whose progress needs a browser view, just point-in-
// time counters an operator or a monitoring scrape can poll.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"shardgate/internal/logger"
)

// PoolStats is what a worker reports about its channel pool for /metrics.
type PoolStats struct {
	WorkerIndex    int            `json:"workerIndex"`
	EndpointsInUse map[string]int `json:"endpointsInUse"`
	ClientSessions int            `json:"clientSessions"`
}

// Source is everything the admin server needs from the running process;
// main.go implements this by closing over its workers and routers.
type Source interface {
	Topology() interface{}
	PoolStats() []PoolStats
}

// Server is the admin HTTP surface.
type Server struct {
	addr   string
	source Source
	start  time.Time
}

// New builds an admin server bound to addr (e.g. "127.0.0.1:9600").
func New(addr string, source Source) *Server {
	return &Server{addr: addr, source: source, start: time.Now()}
}

// Run starts serving and blocks until the listener errors or the
// process is terminated; callers typically run this in its own
// goroutine.
func (s *Server) Run() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/topology", s.handleTopology)
	mux.HandleFunc("/metrics", s.handleMetrics)

	logger.Info("admin: listening on %s", s.addr)
	return http.ListenAndServe(s.addr, mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":        "ok",
		"uptimeSeconds": time.Since(s.start).Seconds(),
	})
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.source.Topology())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"workers":       s.source.PoolStats(),
		"uptimeSeconds": time.Since(s.start).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
