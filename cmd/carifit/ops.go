package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/pkg/metrics"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/mid"
)

// newOpsHandler serves liveness, readiness and metrics.
func newOpsHandler(reg *metrics.Registry, log *zap.Logger, ready func(context.Context) error) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", reg.Handler())

	requests := reg.Counter("ops", "http_requests_total", "Ops HTTP requests.", "method", "path", "code")
	latency := reg.Histogram("ops", "http_request_duration_seconds", "Ops HTTP latency.", prometheus.DefBuckets, "method", "path", "code")
	return mid.Chain(mux,
		mid.Recover(log),
		mid.OTel(appName+"-ops"),
		mid.Metrics(requests, latency),
		mid.Logger(log),
	)
}

func newOpsServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
