// Package httpapi exposes the ambient /healthz and /metrics surface named
// in spec §2's "Misc. (cache abstraction, health, shutdown)" line item.
// /metrics is served via promhttp against the metrics.Registry's own
// *prometheus.Registry rather than the global default, so tests can spin up
// an isolated server.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthChecker reports the health of one dependency (database, Redis).
type HealthChecker interface {
	CheckHealth(ctx context.Context) (healthy bool, detail string)
}

// Server serves /healthz and /metrics on one listener.
type Server struct {
	srv *http.Server
	log *zap.SugaredLogger
}

// healthResponse is the JSON body of GET /healthz.
type healthResponse struct {
	Status       string            `json:"status"`
	LastTick     time.Time         `json:"lastTick,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// LastTickSource reports the periodic processor's most recent tick start.
type LastTickSource interface {
	LastTick() time.Time
}

// New builds an HTTP server bound to addr, serving /healthz (process and
// dependency health) and /metrics (Prometheus exposition format).
func New(addr string, checks map[string]HealthChecker, ticks LastTickSource, gatherer prometheus.Gatherer, log *zap.SugaredLogger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Dependencies: map[string]string{}}
		if ticks != nil {
			resp.LastTick = ticks.LastTick()
		}

		healthy := true
		for name, check := range checks {
			ok, detail := check.CheckHealth(r.Context())
			if !ok {
				healthy = false
				resp.Dependencies[name] = "unhealthy: " + detail
			} else {
				resp.Dependencies[name] = "ok"
			}
		}
		if !healthy {
			resp.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

// ListenAndServe blocks serving until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
