package benchd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters exposed on the metrics port. Runs are counted once per terminal
// state, so started == completed + stopped + failed once all runs end.
var (
	metricRunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benchd_runs_started_total",
		Help: "Number of acquisition runs started.",
	})
	metricRunsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benchd_runs_completed_total",
		Help: "Number of acquisition runs that reached their full sample count.",
	})
	metricRunsStopped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benchd_runs_stopped_total",
		Help: "Number of acquisition runs ended early by a stop request.",
	})
	metricRunsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benchd_runs_failed_total",
		Help: "Number of acquisition runs ended by an instrument error.",
	})
	metricReadings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benchd_readings_total",
		Help: "Number of readings taken across all runs.",
	})
)
