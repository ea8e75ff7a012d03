package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// ServerConfig configures the metrics HTTP endpoint.
type ServerConfig struct {
	Addr string
	Path string
}

// NewServer builds an *http.Server exposing reg's metrics at cfg.Path
// plus a /healthz liveness endpoint, served over h2c like the rest of
// this codebase's HTTP surfaces.
func NewServer(cfg ServerConfig, reg *prometheus.Registry) *http.Server {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:    cfg.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}
}

// Shutdown gracefully stops srv, ignoring context cancellation errors
// from an already-stopped server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
