package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"comms/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with health probes and the request middleware
// installed. Callers register the API and webhooks on Mux.
func New(checks ...ReadyzCheck) *Server {
	m := mux.NewRouter()
	m.Use(RequestID, Logging, Metrics(observability.APIRequests))
	m.HandleFunc("/healthz", Healthz()).Methods(http.MethodGet)
	m.HandleFunc("/readyz", Readyz(2*time.Second, checks...)).Methods(http.MethodGet)
	return &Server{Mux: m}
}

// MetricsHandler serves Prometheus metrics on its own listener.
func MetricsHandler() http.Handler {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	return m
}
