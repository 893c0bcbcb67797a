// Copyright © 2025 CloudLens Authors, All Rights reserved

// Package server assembles the gateway's HTTP surface: the route-rule
// forwarders, the local health and metrics endpoints, and the static
// dashboard fallback. The live router is held behind an atomic value so a
// config reload swaps the whole surface without locking the request path.
package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/cloudlens/devgate/pkg/config"
	"github.com/cloudlens/devgate/pkg/metrics"
	"github.com/cloudlens/devgate/pkg/proxy"
)

// Manager serves requests through the router built from the most recently
// accepted configuration. In-flight requests finish on the router they
// started with.
type Manager struct {
	router atomic.Value // stores *mux.Router
}

// NewManager builds the initial router from cfg.
func NewManager(cfg config.Config) (*Manager, error) {
	m := &Manager{}
	router, err := buildRouter(cfg)
	if err != nil {
		return nil, err
	}
	m.router.Store(router)
	metrics.SetActiveRoutes(len(cfg.Rules))
	return m, nil
}

// ServeHTTP delegates to the current router.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.Load().(*mux.Router).ServeHTTP(w, r)
}

// Reload swaps in a router built from the new configuration. A config that
// fails to build leaves the previous router serving.
func (m *Manager) Reload(cfg config.Config) {
	router, err := buildRouter(cfg)
	if err != nil {
		log.Error().Err(err).Msg("rebuild router failed; keeping previous routes")
		return
	}
	m.router.Store(router)
	metrics.SetActiveRoutes(len(cfg.Rules))
	log.Info().Int("routes", len(cfg.Rules)).Msg("routes swapped")
}

// buildRouter mounts the local endpoints, then the route rules in file
// order, and finally the static dashboard fallback for everything the rules
// leave untouched. Local endpoints always win over rules.
func buildRouter(cfg config.Config) (*mux.Router, error) {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", healthHandler(len(cfg.Rules))).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	for _, rule := range cfg.Rules {
		router.PathPrefix(rule.Prefix).Handler(proxy.New(rule, cfg.RequestTimeout))
	}

	if cfg.StaticDir != "" {
		spa, err := NewSPAHandler(cfg.StaticDir)
		if err != nil {
			return nil, err
		}
		router.NotFoundHandler = spa
	}

	return router, nil
}

// healthHandler reports process liveness and the active rule count.
func healthHandler(routes int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"routes": routes,
		}); err != nil {
			log.Error().Err(err).Msg("write health response failed")
		}
	}
}
