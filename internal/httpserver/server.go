// Package httpserver exposes the indexer's health and metrics surface.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// ReadyChecker reports whether the indexer is ready to serve traffic, e.g.
// whether the store connection is alive.
type ReadyChecker func(ctx context.Context) error

// New builds the handler: /healthz always 200, /readyz runs ready, /metrics
// serves reg's collectors.
func New(reg *prometheus.Registry, ready ReadyChecker) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if ready == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		if err := ready(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}

// Worker adapts an *http.Server into the worker.Worker interface: Run blocks
// serving until ctx is cancelled, then shuts down gracefully.
type Worker struct {
	srv *http.Server
}

// NewWorker wraps a handler listening on addr.
func NewWorker(addr string, handler http.Handler) *Worker {
	return &Worker{srv: &http.Server{Addr: addr, Handler: handler}}
}

func (w *Worker) Name() string { return "http_server" }

func (w *Worker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := w.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = w.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
