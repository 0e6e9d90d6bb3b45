package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeEmpty     = "empty"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

// Per-event results.
const (
	ResultHandled = "handled"
	ResultFailed  = "failed"
	ResultIgnored = "ignored"
)

// Cache eviction reasons.
const (
	EvictExpiredRead = "expired_read"
	EvictSweep       = "sweep"
)

// Pipelines share the ack counter.
const (
	PipelineSync   = "sync"
	PipelineNotify = "notify"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// valid and records nothing, so components can run without instrumentation.
type Metrics struct {
	SyncCycles      *prometheus.CounterVec
	SyncEvents      *prometheus.CounterVec
	SyncDuration    prometheus.Histogram
	AckFailures     *prometheus.CounterVec
	CheckpointID    prometheus.Gauge
	HubSubscribers  prometheus.Gauge
	HubPolling      prometheus.Gauge
	HubDeliveries   prometheus.Counter
	HubCallbackErrs prometheus.Counter
	CacheLookups    *prometheus.CounterVec
	CacheEvictions  *prometheus.CounterVec
	AuditFailures   prometheus.Counter
}

// New creates and registers all metrics on reg. Pass prometheus.NewRegistry()
// in tests so instances do not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domamart_sync_cycles_total",
			Help: "Sync polling cycles by outcome",
		}, []string{"outcome"}),
		SyncEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domamart_sync_events_total",
			Help: "Events dispatched by the sync service by type and result",
		}, []string{"type", "result"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "domamart_sync_cycle_duration_seconds",
			Help:    "Duration of sync cycles that polled the feed",
			Buckets: prometheus.DefBuckets,
		}),
		AckFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domamart_feed_ack_failures_total",
			Help: "Failed event acknowledgements by pipeline",
		}, []string{"pipeline"}),
		CheckpointID: f.NewGauge(prometheus.GaugeOpts{
			Name: "domamart_sync_checkpoint_event_id",
			Help: "Last event id persisted as the sync checkpoint",
		}),
		HubSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "domamart_notify_subscribers",
			Help: "Live notification subscriptions across all domain keys",
		}),
		HubPolling: f.NewGauge(prometheus.GaugeOpts{
			Name: "domamart_notify_polling",
			Help: "Whether the notification poll loop is running (0 or 1)",
		}),
		HubDeliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "domamart_notify_deliveries_total",
			Help: "Callback invocations made by the notification hub",
		}),
		HubCallbackErrs: f.NewCounter(prometheus.CounterOpts{
			Name: "domamart_notify_callback_failures_total",
			Help: "Subscriber callbacks that returned an error or panicked",
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domamart_cache_lookups_total",
			Help: "Cache lookups by cache name and result",
		}, []string{"cache", "result"}),
		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domamart_cache_evictions_total",
			Help: "Cache entries removed by expiry, by cache name and reason",
		}, []string{"cache", "reason"}),
		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "domamart_audit_append_failures_total",
			Help: "Analytics events that could not be appended",
		}),
	}
}

func (m *Metrics) ObserveCycle(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SyncCycles.WithLabelValues(outcome).Inc()
	if outcome == OutcomeProcessed || outcome == OutcomeError {
		m.SyncDuration.Observe(seconds)
	}
}

func (m *Metrics) ObserveEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.SyncEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) IncAckFailure(pipeline string) {
	if m == nil {
		return
	}
	m.AckFailures.WithLabelValues(pipeline).Inc()
}

func (m *Metrics) SetCheckpoint(eventID int64) {
	if m == nil {
		return
	}
	m.CheckpointID.Set(float64(eventID))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.HubSubscribers.Set(float64(n))
}

func (m *Metrics) SetHubPolling(on bool) {
	if m == nil {
		return
	}
	if on {
		m.HubPolling.Set(1)
	} else {
		m.HubPolling.Set(0)
	}
}

func (m *Metrics) IncDeliveries() {
	if m == nil {
		return
	}
	m.HubDeliveries.Inc()
}

func (m *Metrics) IncCallbackFailures() {
	if m == nil {
		return
	}
	m.HubCallbackErrs.Inc()
}

func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, "hit").Inc()
}

func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, "miss").Inc()
}

func (m *Metrics) CacheEvicted(cache, reason string, n int) {
	if m == nil {
		return
	}
	m.CacheEvictions.WithLabelValues(cache, reason).Add(float64(n))
}

func (m *Metrics) IncAuditFailures() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}
