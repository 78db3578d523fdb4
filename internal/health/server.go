// Package health serves the liveness probe and the Prometheus endpoint.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whisper/guardbot/internal/metrics"
)

// Stats is the source of the processed-message count.
type Stats interface {
	Processed() int64
}

// Server is the probe HTTP server.
type Server struct {
	addr       string
	stats      Stats
	startedAt  time.Time
	httpServer *http.Server
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, stats Stats) *Server {
	s := &Server{addr: addr, stats: stats, startedAt: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's routes, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("component", "health").Str("addr", s.addr).Msg("probe listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health: http server error: %w", err)
	}
	return nil
}

// Shutdown stops the listener, waiting up to 5s for in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("health: shutdown: %w", err)
	}
	return nil
}

// handleHealth reports status, uptime and the processed-message count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status   string `json:"status"`
		Uptime   string `json:"uptime"`
		Messages int64  `json:"messages"`
	}{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.stats != nil {
		resp.Messages = s.stats.Processed()
	}

	_ = json.NewEncoder(w).Encode(resp)
}
