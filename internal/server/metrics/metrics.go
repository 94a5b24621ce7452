// Package metrics exposes sync run lifecycle counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/services"
)

const namespace = "phidiasync"

// SyncMetrics implements services.RunObserver.
type SyncMetrics struct {
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  prometheus.Histogram
	records      *prometheus.CounterVec
}

var _ services.RunObserver = (*SyncMetrics)(nil)

// NewSyncMetrics creates the collectors and registers them with reg.
func NewSyncMetrics(reg prometheus.Registerer) (*SyncMetrics, error) {
	m := &SyncMetrics{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_started_total",
			Help:      "Sync runs started, by trigger source.",
		}, []string{"source"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_finished_total",
			Help:      "Sync runs finished, by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Wall time of finished sync runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_records_total",
			Help:      "Reconciled upstream records, by phase and result.",
		}, []string{"phase", "result"}),
	}

	for _, c := range []prometheus.Collector{m.runsStarted, m.runsFinished, m.runDuration, m.records} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *SyncMetrics) RunStarted(source models.TriggerSource) {
	m.runsStarted.WithLabelValues(string(source)).Inc()
}

func (m *SyncMetrics) PhaseFinished(phase string, c models.Counts) {
	m.records.WithLabelValues(phase, "created").Add(float64(c.Created))
	m.records.WithLabelValues(phase, "updated").Add(float64(c.Updated))
	m.records.WithLabelValues(phase, "unchanged").Add(float64(c.Unchanged))
	m.records.WithLabelValues(phase, "failed").Add(float64(c.Failed))
}

func (m *SyncMetrics) RunFinished(outcome models.Outcome, d time.Duration) {
	m.runsFinished.WithLabelValues(string(outcome)).Inc()
	m.runDuration.Observe(d.Seconds())
}
