// Package server exposes the monitoring HTTP surface: health, metrics,
// cache stats and the error tracker.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tyeom/zeroquant/internal/monitor"
	"github.com/tyeom/zeroquant/internal/storage/postgres"
)

// CacheStatsReader serves the cache bookkeeping rows.
type CacheStatsReader interface {
	AllMetadata(ctx context.Context) ([]postgres.Metadata, error)
}

// Server is the monitoring HTTP endpoint.
type Server struct {
	addr    string
	tracker *monitor.Tracker
	cache   CacheStatsReader
	httpSrv *http.Server
}

// New builds the server.
func New(addr string, tracker *monitor.Tracker, cache CacheStatsReader) *Server {
	return &Server{addr: addr, tracker: tracker, cache: cache}
}

// Start runs the listener until Shutdown.
func (s *Server) Start() error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/monitoring/errors", s.handleErrors).Methods(http.MethodGet)
	r.HandleFunc("/monitoring/errors/stats", s.handleErrorStats).Methods(http.MethodGet)
	r.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	log.Info().Str("addr", s.addr).Msg("monitoring server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	filter := monitor.Filter{Limit: 100}
	if sev := r.URL.Query().Get("severity"); sev != "" {
		filter.Severity = monitor.Severity(sev)
	}
	if cat := r.URL.Query().Get("category"); cat != "" {
		filter.Category = monitor.Category(cat)
	}
	writeJSON(w, s.tracker.Recent(filter))
}

func (s *Server) handleErrorStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.tracker.Stats())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		http.Error(w, "cache stats unavailable", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.cache.AllMetadata(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encoding failed")
	}
}
