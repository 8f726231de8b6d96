// Package server assembles the HTTP surface: the versioned API plus the
// Prometheus scrape endpoint.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curaition/bitcoin-newsletter/internal/api"
)

// NewRouter mounts the API routes and the metrics endpoint.
func NewRouter(h *api.Handler) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", api.Routes(h))
	return r
}
