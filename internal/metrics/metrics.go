package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "apidocs", Subsystem: "pipeline", Name: "refreshes_total", Help: "Pipeline refreshes by outcome"},
		[]string{"outcome"},
	)
	joined = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "apidocs", Subsystem: "pipeline", Name: "joined_total", Help: "Refresh calls that joined an in-flight job"},
	)
	stageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "apidocs", Subsystem: "pipeline", Name: "stage_duration_seconds", Help: "Pipeline stage latency", Buckets: prometheus.ExponentialBuckets(0.01, 4, 8)},
		[]string{"stage", "outcome"},
	)
	endpoints = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "apidocs", Subsystem: "pipeline", Name: "endpoints", Help: "Endpoints per generated document", Buckets: prometheus.ExponentialBuckets(1, 2, 10)},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "apidocs", Subsystem: "command", Name: "runs_total", Help: "Subprocess runs by program and result"},
		[]string{"program", "result"},
	)
)

func init() {
	prometheus.MustRegister(refreshes, joined, stageLatency, endpoints, commands)
}

func IncRefresh(outcome string) { refreshes.WithLabelValues(outcome).Inc() }
func IncJoined()                { joined.Inc() }
func ObserveEndpoints(n int)    { endpoints.Observe(float64(n)) }

func ObserveStage(stage string, d time.Duration, err error) {
	stageLatency.WithLabelValues(stage, outcome(err)).Observe(d.Seconds())
}

func IncCommand(program, result string) { commands.WithLabelValues(program, result).Inc() }

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
