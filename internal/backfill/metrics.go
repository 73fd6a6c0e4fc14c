package backfill

import "github.com/prometheus/client_golang/prometheus"

// Bucket outcome label values.
const (
	OutcomeCached  = "cached"
	OutcomeFetched = "fetched"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

// Metrics are the Prometheus collectors updated by the orchestrator and,
// via ObserveFeedRequest, by the feed client. A nil *Metrics is a no-op.
type Metrics struct {
	Buckets      *prometheus.CounterVec
	Inserted     prometheus.Counter
	RunDuration  prometheus.Summary
	FeedRequests *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Buckets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quakecache_backfill_buckets_total",
			Help: "Day buckets visited by backfill, by outcome",
		}, []string{"outcome"}),
		Inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quakecache_backfill_records_inserted_total",
			Help: "Records newly inserted by backfill",
		}),
		RunDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Name:       "quakecache_backfill_run_duration_seconds",
			Help:       "Duration of EnsureRange calls",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		FeedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quakecache_feed_requests_total",
			Help: "Upstream feed HTTP attempts, by status code",
		}, []string{"status"}),
	}
	reg.MustRegister(m.Buckets, m.Inserted, m.RunDuration, m.FeedRequests)

	for _, o := range []string{OutcomeCached, OutcomeFetched, OutcomeEmpty, OutcomeFailed} {
		m.Buckets.WithLabelValues(o)
	}
	return m
}

// ObserveFeedRequest counts one feed attempt. Suitable as feed.Config.OnRequest.
func (m *Metrics) ObserveFeedRequest(status string) {
	if m == nil {
		return
	}
	m.FeedRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) bucket(outcome string) {
	if m == nil {
		return
	}
	m.Buckets.WithLabelValues(outcome).Inc()
}

func (m *Metrics) inserted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Inserted.Add(float64(n))
}

func (m *Metrics) run(seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(seconds)
}
