package engine

import "github.com/prometheus/client_golang/prometheus"

// Stats is the engine's statistics counters of spec.md §6, plus the
// SPEC_FULL.md additions (egress queue delay, max-sessions-cap counters).
// Unlike ptp/sptp/stats.PrometheusExporter's dynamically-keyed gauges
// (scrapeMetrics flattens an arbitrary counter map into prometheus.Gauge
// values looked up by name at scrape time), these are concrete typed
// fields registered once at construction -- the engine's counter set is
// fixed at compile time, so there is nothing for a dynamic registry to
// buy here, and a typed field catches a typo in the call site instead of
// silently creating a new metric.
//
// DiscretionaryCheckpointsSuppressed, ReportSegmentsSplit and
// ReportsUnableToBeIssued are registered and exported, but no code path
// increments them, so they always read zero.
type Stats struct {
	CheckpointTimerExpirations         prometheus.Counter
	DiscretionaryCheckpointsSuppressed prometheus.Counter
	ReportTimerExpirations             prometheus.Counter
	ReportSegmentsSplit                prometheus.Counter
	ReportsUnableToBeIssued            prometheus.Counter
	SendsDeferredByRateLimiter         prometheus.Counter

	SenderMaxSessionsCapHits   prometheus.Counter
	ReceiverMaxSessionsCapHits prometheus.Counter

	EgressQueueDelaySeconds prometheus.Histogram
}

// NewStats constructs and registers every engine counter against reg. A
// nil reg skips registration entirely (useful in tests, which don't need
// a scrape endpoint) while still returning fully usable counters.
func NewStats(reg *prometheus.Registry) *Stats {
	s := &Stats{
		CheckpointTimerExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltp_checkpoint_timer_expirations_total",
			Help: "Checkpoint retransmission timers that expired before their report arrived.",
		}),
		DiscretionaryCheckpointsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltp_discretionary_checkpoints_suppressed_total",
			Help: "Discretionary checkpoints skipped because the covered range was already acknowledged.",
		}),
		ReportTimerExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltp_report_timer_expirations_total",
			Help: "Reception-report retransmission timers that expired before their ack arrived.",
		}),
		ReportSegmentsSplit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltp_report_segments_split_total",
			Help: "Reception reports split across multiple segments due to the claim-count cap.",
		}),
		ReportsUnableToBeIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltp_reports_unable_to_be_issued_total",
			Help: "Checkpoints that could not produce a reception report because the bounds inverted.",
		}),
		SendsDeferredByRateLimiter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltp_sends_deferred_by_rate_limiter_total",
			Help: "Egress attempts that found the token bucket empty.",
		}),
		SenderMaxSessionsCapHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltp_sender_max_sessions_cap_hits_total",
			Help: "Transmission requests rejected because MaxSimultaneousSessions was already reached.",
		}),
		ReceiverMaxSessionsCapHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltp_receiver_max_sessions_cap_hits_total",
			Help: "Inbound data segments for unknown sessions rejected because MaxSimultaneousSessions was already reached.",
		}),
		EgressQueueDelaySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ltp_egress_queue_delay_seconds",
			Help:    "Time a packet spent queued for egress before the rate limiter released it.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			s.CheckpointTimerExpirations,
			s.DiscretionaryCheckpointsSuppressed,
			s.ReportTimerExpirations,
			s.ReportSegmentsSplit,
			s.ReportsUnableToBeIssued,
			s.SendsDeferredByRateLimiter,
			s.SenderMaxSessionsCapHits,
			s.ReceiverMaxSessionsCapHits,
			s.EgressQueueDelaySeconds,
		)
	}
	return s
}
