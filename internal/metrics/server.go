// SPDX-License-Identifier: AGPL-3.0-or-later
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readTimeout = 3 * time.Second

// CreateMetricsServer starts the Prometheus metrics HTTP server and blocks
// until it exits. It returns nil immediately if metrics are disabled, and
// returns (rather than panics on) a listen failure so the caller's startup
// fan-out can surface it.
func CreateMetricsServer(config *config.Config, registry *prometheus.Registry) error {
	if !config.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Metrics.Bind, config.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: readTimeout,
	}
	if err := server.ListenAndServe(); err != nil {
		return fmt.Errorf("metrics server failed on %s: %w", server.Addr, err)
	}
	return nil
}
