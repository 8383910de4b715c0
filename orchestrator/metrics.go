package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hairizuan-noorazman/ui-orchestrator/testrun"
)

var (
	metricSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ui_orchestrator",
		Name:      "sessions_started_total",
		Help:      "Number of test sessions accepted by Start.",
	})
	metricSessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ui_orchestrator",
		Name:      "sessions_finished_total",
		Help:      "Number of test sessions that reached a terminal status.",
	}, []string{"status"})
	metricSessionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ui_orchestrator",
		Name:      "sessions_running",
		Help:      "Sessions currently holding a browser.",
	})
	metricSessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ui_orchestrator",
		Name:      "session_duration_seconds",
		Help:      "Wall time from session start to its terminal status.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ui_orchestrator",
		Name:      "actions_total",
		Help:      "Scripted actions run, by type and outcome.",
	}, []string{"type", "outcome"})
)

func recordSessionStarted() {
	metricSessionsStarted.Inc()
}

func recordSessionFinished(status testrun.Status, d time.Duration) {
	metricSessionsFinished.WithLabelValues(string(status)).Inc()
	metricSessionDuration.Observe(d.Seconds())
}

func recordAction(actionType, outcome string) {
	metricActions.WithLabelValues(actionType, outcome).Inc()
}
