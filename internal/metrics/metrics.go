// Package metrics exposes Prometheus instruments for the pipeline stages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "newshub"

// Metrics groups all instruments. A nil *Metrics is a valid no-op.
type Metrics struct {
	collected   *prometheus.CounterVec
	sourceFails *prometheus.CounterVec
	analyzed    *prometheus.CounterVec
	aiCalls     *prometheus.CounterVec
	posts       *prometheus.CounterVec
	moderation  *prometheus.CounterVec
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// New registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		collected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_collected_total",
			Help: "Items persisted as pending, by source.",
		}, []string{"source"}),
		sourceFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "source_failures_total",
			Help: "Failed source fetches, by source.",
		}, []string{"source"}),
		analyzed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_analyzed_total",
			Help: "Analysis outcomes, by resulting status.",
		}, []string{"outcome"}),
		aiCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ai_calls_total",
			Help: "AI completion calls, by model and result.",
		}, []string{"model", "result"}),
		posts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "posts_total",
			Help: "Channel deliveries, by channel and result.",
		}, []string{"channel", "result"}),
		moderation: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "moderation_events_total",
			Help: "Moderation prompts and decisions.",
		}, []string{"event"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_runs_total",
			Help: "Scheduled job runs, by job and result.",
		}, []string{"job", "result"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Scheduled job run duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job"}),
	}
}

func (m *Metrics) ItemsCollected(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.collected.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) SourceFailed(source string) {
	if m == nil {
		return
	}
	m.sourceFails.WithLabelValues(source).Inc()
}

func (m *Metrics) ItemAnalyzed(outcome string) {
	if m == nil {
		return
	}
	m.analyzed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AICall(model string, ok bool) {
	if m == nil {
		return
	}
	m.aiCalls.WithLabelValues(model, result(ok)).Inc()
}

func (m *Metrics) Post(channel string, ok bool) {
	if m == nil {
		return
	}
	m.posts.WithLabelValues(channel, result(ok)).Inc()
}

func (m *Metrics) Moderation(event string) {
	if m == nil {
		return
	}
	m.moderation.WithLabelValues(event).Inc()
}

func (m *Metrics) JobRun(job string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result(ok)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
