package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/foolscrate/foolscrate/internal/metrics"
)

// Server provides an HTTP admin interface for agent metrics and health checks.
// It is meant to bind to loopback; nothing here is safe for the public internet.
type Server struct {
	server *http.Server
	mux    *http.ServeMux
}

// NewServer creates a new agent admin server.
func NewServer() *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())

	return &Server{
		mux: mux,
	}
}

// Start starts the admin server on the given address.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		// Ignore errors - metrics are optional and server shutdown is expected
		_ = s.server.ListenAndServe()
	}()

	return nil
}

// Stop gracefully stops the admin server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// healthHandler returns a simple health check response.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
