package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes recorded in the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	// StatusDropped marks runs that failed with asynq.SkipRetry and will not be retried.
	StatusDropped = "dropped"
)

// Metrics holds the collectors shared by every background job.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
	lastOK   *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job collectors on registerer. A nil registerer shares one
// instance registered on the Prometheus default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	defaultOnce.Do(func() {
		defaultMetrics = register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_job_runs_total",
			Help: "Job runs by task type and status.",
		}, []string{"task", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Job run duration.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15},
		}, []string{"task"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_job_items_total",
			Help: "Items processed by job runs, e.g. assignments expired.",
		}, []string{"task"}),
		lastOK: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run of each task type.",
		}, []string{"task"}),
	}
	registerer.MustRegister(m.runs, m.duration, m.items, m.lastOK)
	return m
}

// Tracker instruments one job run. A Tracker from nil Metrics records nothing.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// Items adds n processed items to the run.
func (t *Tracker) Items(n int) {
	if t == nil || t.metrics == nil || n <= 0 {
		return
	}
	t.metrics.items.WithLabelValues(t.job).Add(float64(n))
}

// End records the run outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := StatusSuccess
	switch {
	case errors.Is(err, asynq.SkipRetry):
		status = StatusDropped
	case err != nil:
		status = StatusFailure
	default:
		t.metrics.lastOK.WithLabelValues(t.job).SetToCurrentTime()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}
