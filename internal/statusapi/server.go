package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot is the session state served at /api/status.
type Snapshot struct {
	Role           string `json:"role"`
	Participant    string `json:"participant"`
	Node           string `json:"node"`
	Topic          string `json:"topic"`
	TypeName       string `json:"type_name"`
	State          string `json:"state"`
	MatchedCurrent int    `json:"matched_current"`
	MatchedTotal   int    `json:"matched_total"`
	Samples        uint64 `json:"samples"`
	Lost           uint64 `json:"lost,omitempty"`
}

type Source interface {
	Snapshot() Snapshot
}

type Server struct {
	source   Source
	gatherer prometheus.Gatherer
}

// NewServer serves source; gatherer may be nil to omit /metrics.
func NewServer(source Source, gatherer prometheus.Gatherer) *Server {
	return &Server{source: source, gatherer: gatherer}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
