// Package server exposes the ops HTTP surface: health, readiness, client
// status, and Prometheus metrics. It injects correlation IDs into request
// contexts for consistent logging.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/blive-ingest/blive"
	"github.com/onnwee/blive-ingest/telemetry"
)

// Handlers carries the dependencies the endpoints read from.
type Handlers struct {
	client *blive.Client
}

// NewHandlers builds the handler set around a running client.
func NewHandlers(client *blive.Client) *Handlers {
	return &Handlers{client: client}
}

// NewMux returns the HTTP handler with all routes.
func NewMux(client *blive.Client) http.Handler {
	handlers := NewHandlers(client)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)
	mux.HandleFunc("/status", handlers.HandleStatus)

	// Wrap with correlation ID injector
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)
		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))
		mux.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready only while the upstream connection is live;
// during reconnects the pod stays alive but not ready.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	state := h.client.State()
	w.Header().Set("Content-Type", "application/json")
	if state != blive.StateLive {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "not_ready",
			"state":  state.String(),
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports the connection state, room, and queue depth.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"state":       h.client.State().String(),
		"room_id":     h.client.Room(),
		"queue_depth": h.client.QueueDepth(),
	})
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, client *blive.Client, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(client),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
