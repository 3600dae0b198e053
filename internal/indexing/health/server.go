package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	checks map[string]Checker
	names  []string
	server *http.Server
	log    *slog.Logger
}

// NewServer creates a new health server reporting the given named checkers.
func NewServer(port int, checks map[string]Checker) *Server {
	mux := http.NewServeMux()
	s := &Server{
		checks: checks,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: slog.Default().With("component", "health_server"),
	}
	for name := range checks {
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the HTTP handler serving the health endpoints.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Aggregate returns OK when every checker is OK, otherwise the first failing
// state in name order.
func (s *Server) Aggregate() State {
	for _, name := range s.names {
		if st := s.checks[name].Health(); !st.OK {
			return State{OK: false, Reason: fmt.Sprintf("%s: %s", name, st.Reason)}
		}
	}
	return State{OK: true}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.Aggregate()
	w.Header().Set("Content-Type", "application/json")

	if !state.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	s.writeJSON(w, state)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := make(map[string]State, len(s.names))
	for _, name := range s.names {
		report[name] = s.checks[name].Health()
	}
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, report)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to write health response", "error", err)
	}
}
