package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// LedgerMetrics captures ledger, session and settlement activity.
type LedgerMetrics struct {
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	settlements *prometheus.CounterVec
	attempts    prometheus.Counter
	latency     prometheus.Histogram
	bonusRefuse prometheus.Counter
	swept       prometheus.Counter
}

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rcn",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Ledger events appended, segmented by kind.",
			}, []string{"kind"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rcn",
				Subsystem: "redemption",
				Name:      "transitions_total",
				Help:      "Redemption session transitions, segmented by target status.",
			}, []string{"status"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rcn",
				Subsystem: "redemption",
				Name:      "create_rejections_total",
				Help:      "Session creations refused, segmented by reason.",
			}, []string{"reason"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rcn",
				Subsystem: "settlement",
				Name:      "outcomes_total",
				Help:      "Settlement outcomes (settled, failed).",
			}, []string{"outcome"}),
			attempts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rcn",
				Subsystem: "settlement",
				Name:      "attempts_total",
				Help:      "Settlement connector invocations including retries.",
			}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "rcn",
				Subsystem: "settlement",
				Name:      "duration_seconds",
				Help:      "Time from settlement claim to final outcome.",
				Buckets:   prometheus.DefBuckets,
			}),
			bonusRefuse: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rcn",
				Subsystem: "ledger",
				Name:      "bonus_refused_total",
				Help:      "Tier bonuses refused because the shop pool was insufficient.",
			}),
			swept: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rcn",
				Subsystem: "redemption",
				Name:      "expired_total",
				Help:      "Sessions expired by the sweep.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.events,
			ledgerRegistry.transitions,
			ledgerRegistry.rejections,
			ledgerRegistry.settlements,
			ledgerRegistry.attempts,
			ledgerRegistry.latency,
			ledgerRegistry.bonusRefuse,
			ledgerRegistry.swept,
		)
	})
	return ledgerRegistry
}

// RecordEvent counts an appended ledger event.
func (m *LedgerMetrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// RecordTransition counts a session entering status.
func (m *LedgerMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// RecordRejection counts a refused session creation.
func (m *LedgerMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// RecordAttempt counts one settlement connector call.
func (m *LedgerMetrics) RecordAttempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

// RecordSettlement records the final outcome of a settlement run.
func (m *LedgerMetrics) RecordSettlement(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.latency.Observe(duration.Seconds())
}

// RecordBonusRefused counts a refused tier bonus.
func (m *LedgerMetrics) RecordBonusRefused() {
	if m == nil {
		return
	}
	m.bonusRefuse.Inc()
}

// RecordExpired adds n sessions expired by the sweep.
func (m *LedgerMetrics) RecordExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
