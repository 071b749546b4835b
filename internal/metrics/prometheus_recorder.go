package metrics

import (
	"strconv"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	submissions       *prom.CounterVec
	remoteRetries     *prom.CounterVec
	remoteCallSeconds *prom.HistogramVec
	statusTransitions *prom.CounterVec
	eventsPublished   *prom.CounterVec
	hubSubscribers    prom.Gauge
	reconcileSeconds  prom.Histogram
	reconcileGroups   *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.submissions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildcoord",
			Name:      "submissions_total",
			Help:      "Remote task submissions by outcome",
		}, []string{"outcome"})
		pr.remoteRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildcoord",
			Name:      "remote_retries_total",
			Help:      "Retried remote scheduler calls by operation",
		}, []string{"op"})
		pr.remoteCallSeconds = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "buildcoord",
			Name:      "remote_call_duration_seconds",
			Help:      "Duration of remote scheduler calls",
			Buckets:   prom.DefBuckets,
		}, []string{"op", "success"})
		pr.statusTransitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildcoord",
			Name:      "status_transitions_total",
			Help:      "Applied build status transitions by resulting status",
		}, []string{"to"})
		pr.eventsPublished = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildcoord",
			Name:      "events_published_total",
			Help:      "Status events published through the notification hub",
		}, []string{"terminal"})
		pr.hubSubscribers = prom.NewGauge(prom.GaugeOpts{
			Namespace: "buildcoord",
			Name:      "hub_subscribers",
			Help:      "Currently registered notification subscriptions",
		})
		pr.reconcileSeconds = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "buildcoord",
			Name:      "reconcile_tick_duration_seconds",
			Help:      "Duration of reconciliation loop ticks",
			Buckets:   prom.DefBuckets,
		})
		pr.reconcileGroups = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildcoord",
			Name:      "reconcile_groups_total",
			Help:      "Groups processed by the reconciliation loop by outcome",
		}, []string{"outcome"})
		reg.MustRegister(pr.submissions, pr.remoteRetries, pr.remoteCallSeconds,
			pr.statusTransitions, pr.eventsPublished, pr.hubSubscribers,
			pr.reconcileSeconds, pr.reconcileGroups)
	})
	return pr
}

func (p *PrometheusRecorder) IncSubmission(outcome string) {
	if p == nil || p.submissions == nil {
		return
	}
	p.submissions.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncRemoteRetry(op string) {
	if p == nil || p.remoteRetries == nil {
		return
	}
	p.remoteRetries.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) ObserveRemoteCall(op string, d time.Duration, success bool) {
	if p == nil || p.remoteCallSeconds == nil {
		return
	}
	p.remoteCallSeconds.WithLabelValues(op, strconv.FormatBool(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStatusTransition(to string) {
	if p == nil || p.statusTransitions == nil {
		return
	}
	p.statusTransitions.WithLabelValues(to).Inc()
}

func (p *PrometheusRecorder) IncEventPublished(terminal bool) {
	if p == nil || p.eventsPublished == nil {
		return
	}
	p.eventsPublished.WithLabelValues(strconv.FormatBool(terminal)).Inc()
}

func (p *PrometheusRecorder) SetHubSubscribers(n int) {
	if p == nil || p.hubSubscribers == nil {
		return
	}
	p.hubSubscribers.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveReconcileTick(d time.Duration) {
	if p == nil || p.reconcileSeconds == nil {
		return
	}
	p.reconcileSeconds.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncReconcileGroup(outcome string) {
	if p == nil || p.reconcileGroups == nil {
		return
	}
	p.reconcileGroups.WithLabelValues(outcome).Inc()
}
