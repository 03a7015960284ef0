package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "kbforge"

	kindLabel   = "kind"
	statusLabel = "status"
)

var jobsStartedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_started_total",
		Help:      "number of jobs created, by pipeline kind",
	},
	[]string{kindLabel},
)

var jobsFinishedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "number of jobs that reached a terminal status",
	},
	[]string{kindLabel, statusLabel},
)

var jobsActiveMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_active",
		Help:      "jobs created but not yet terminal",
	},
	[]string{kindLabel},
)

var streamSubscribersMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "job_stream_subscribers",
		Help:      "open job event subscriptions",
	},
)

var trainingPollsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "training_polls_total",
		Help:      "status polls against the external training service, by reported status",
	},
	[]string{statusLabel},
)

var pageOutcomesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scrape_pages_total",
		Help:      "documentation pages scraped, by outcome",
	},
	[]string{statusLabel},
)

// RecordJobCreated counts a new job.
func RecordJobCreated(kind string) {
	jobsStartedMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
	jobsActiveMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

// RecordJobFinished counts a job reaching status.
func RecordJobFinished(kind, status string) {
	jobsFinishedMetric.With(prometheus.Labels{kindLabel: kind, statusLabel: status}).Inc()
	jobsActiveMetric.With(prometheus.Labels{kindLabel: kind}).Dec()
}

func AddStreamSubscribers(delta int) {
	streamSubscribersMetric.Add(float64(delta))
}

func IncreaseTrainingPolls(status string) {
	trainingPollsMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncreasePageOutcome(status string) {
	pageOutcomesMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsStartedMetric)
	prometheus.MustRegister(jobsFinishedMetric)
	prometheus.MustRegister(jobsActiveMetric)
	prometheus.MustRegister(streamSubscribersMetric)
	prometheus.MustRegister(trainingPollsMetric)
	prometheus.MustRegister(pageOutcomesMetric)
}
