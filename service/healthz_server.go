package service

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// HealthzServer answers liveness checks while a run is in progress. It
// reports 503 once the run has been marked as draining.
type HealthzServer struct {
	log      log.Logger
	server   *http.Server
	draining atomic.Bool
}

func NewHealthzServer(l log.Logger) *HealthzServer {
	return &HealthzServer{log: l}
}

func (h *HealthzServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(mux)
}

func (h *HealthzServer) Start(addr string) error {
	h.server = &http.Server{
		Handler: h.Handler(),
		Addr:    addr,
	}
	return h.server.ListenAndServe()
}

// Drain makes subsequent checks fail.
func (h *HealthzServer) Drain() {
	h.draining.Store(true)
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("health check", "path", r.URL.Path)
	if h.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("DRAINING")) //nolint:errcheck
		return
	}
	w.Write([]byte("OK")) //nolint:errcheck
}
