package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ocrPipeline = "ocr_pipeline"

	// Job metrics
	jobsSubmittedTotal  = "jobs_submitted_total"
	jobsFinishedTotal   = "jobs_finished_total"
	jobDurationSeconds  = "job_duration_seconds"
	jobsQueued          = "jobs_queued"
	schedulerEnabled    = "scheduler_enabled"
	eventsRecordedTotal = "events_recorded_total"

	// Labels
	stageLabel   = "stage"
	outcomeLabel = "outcome"
	kindLabel    = "kind"
	queuedLabel  = "queued"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

/**
* Metrics definition
**/
var jobsSubmittedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: ocrPipeline,
		Name:      jobsSubmittedTotal,
		Help:      "number of submissions partitioned by stage and whether a new job was queued",
	},
	[]string{stageLabel, queuedLabel},
)

var jobsFinishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: ocrPipeline,
		Name:      jobsFinishedTotal,
		Help:      "number of executed jobs partitioned by stage and outcome",
	},
	[]string{stageLabel, outcomeLabel},
)

var jobDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: ocrPipeline,
		Name:      jobDurationSeconds,
		Help:      "time spent in stage handlers",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	},
	[]string{stageLabel},
)

var jobsQueuedMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: ocrPipeline,
		Name:      jobsQueued,
		Help:      "number of queued jobs per stage, refreshed by the scheduler",
	},
	[]string{stageLabel},
)

var schedulerEnabledMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: ocrPipeline,
		Name:      schedulerEnabled,
		Help:      "1 when background execution is enabled",
	},
)

var eventsRecordedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: ocrPipeline,
		Name:      eventsRecordedTotal,
		Help:      "number of events appended to the pipeline event log",
	},
	[]string{kindLabel},
)

func IncreaseJobsSubmittedMetric(stage string, queued bool) {
	q := "false"
	if queued {
		q = "true"
	}
	jobsSubmittedTotalMetric.With(prometheus.Labels{stageLabel: stage, queuedLabel: q}).Inc()
}

func ObserveJobFinished(stage, outcome string, took time.Duration) {
	jobsFinishedTotalMetric.With(prometheus.Labels{stageLabel: stage, outcomeLabel: outcome}).Inc()
	jobDurationMetric.With(prometheus.Labels{stageLabel: stage}).Observe(took.Seconds())
}

// UpdateQueuedJobsMetric replaces the per stage queue depth. Stages missing from counts are reset to zero.
func UpdateQueuedJobsMetric(stages []string, counts map[string]int64) {
	for _, stage := range stages {
		jobsQueuedMetric.With(prometheus.Labels{stageLabel: stage}).Set(float64(counts[stage]))
	}
}

func UpdateSchedulerEnabledMetric(enabled bool) {
	if enabled {
		schedulerEnabledMetric.Set(1)
		return
	}
	schedulerEnabledMetric.Set(0)
}

func IncreaseEventsRecordedMetric(kind string) {
	eventsRecordedTotalMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsSubmittedTotalMetric)
	prometheus.MustRegister(jobsFinishedTotalMetric)
	prometheus.MustRegister(jobDurationMetric)
	prometheus.MustRegister(jobsQueuedMetric)
	prometheus.MustRegister(schedulerEnabledMetric)
	prometheus.MustRegister(eventsRecordedTotalMetric)
	prometheus.MustRegister(LiveSubscribers.counter)
}
