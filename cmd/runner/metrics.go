package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hairizuan-noorazman/ui-orchestrator/events"
	"github.com/hairizuan-noorazman/ui-orchestrator/logger"
)

// hubCollector exposes the hub's drop count.
func hubCollector(hub *events.Hub) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "ui_orchestrator",
		Name:      "events_dropped_total",
		Help:      "Event deliveries abandoned because a subscriber was too slow.",
	}, func() float64 {
		return float64(hub.Dropped())
	})
}

// startMetricsServer serves /metrics on addr until the returned server is
// shut down.
func startMetricsServer(ctx context.Context, addr string, hub *events.Hub, log logger.Logger) (*http.Server, error) {
	if err := prometheus.Register(hubCollector(hub)); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info(ctx, "metrics listening", map[string]interface{}{
			"address": addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "metrics server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	return server, nil
}
