// Package api serves a pool's health, statistics and Prometheus metrics over
// HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guileen/sessionpool/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Pool is the part of a connection pool the handler reports on
type Pool interface {
	network.StatsSource
	IsClosed() bool
}

type StatusHandler struct {
	name     string
	pool     Pool
	registry *prometheus.Registry
}

// NewStatusHandler creates a handler for pool and registers its collector in
// a private registry.
func NewStatusHandler(name string, pool Pool) (*StatusHandler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(network.NewCollector(name, pool)); err != nil {
		return nil, err
	}
	return &StatusHandler{name: name, pool: pool, registry: registry}, nil
}

// Registry returns the registry serving /metrics, for callers that want to
// add their own collectors.
func (h *StatusHandler) Registry() *prometheus.Registry {
	return h.registry
}

func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/stats", h.Stats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
}

// Router returns a chi router with the status routes mounted
func (h *StatusHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

type StatsResponse struct {
	Pool    string              `json:"pool"`
	Closed  bool                `json:"closed"`
	Stats   network.PoolStats   `json:"stats"`
	Metrics network.PoolMetrics `json:"metrics"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.pool.IsClosed() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("closed\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Pool:    h.name,
		Closed:  h.pool.IsClosed(),
		Stats:   h.pool.Stats(),
		Metrics: h.pool.GetMetrics(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}
