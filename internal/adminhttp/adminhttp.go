// Package adminhttp serves the writer/watcher's operational surface: a
// liveness probe, Prometheus metrics, and a snapshot of node-pool health.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/podping-hive/podping-go/internal/nodepool"
)

// HealthSource supplies the live endpoint health snapshot; implemented by
// the node pool.
type HealthSource interface {
	Health() []nodepool.EndpointHealth
}

// Server is the admin HTTP surface shared by both daemons.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger

	mu     sync.RWMutex
	ready  bool
	source HealthSource
}

// New builds an admin server listening on addr (":9901", ":9902", ...).
// source may be nil if the caller has no node pool to report on yet.
func New(addr string, source HealthSource, log *zap.Logger) *Server {
	s := &Server{log: log, source: source}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/nodes", s.handleNodes).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// SetReady flips the /healthz verdict; the writer calls this after its
// startup probe has succeeded, the watcher once its components are built.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if s.log != nil {
			s.log.Info("adminhttp: listening", zap.String("addr", s.httpServer.Addr))
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]nodepool.EndpointHealth{})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.source.Health())
}
