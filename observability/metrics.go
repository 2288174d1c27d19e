package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"loyaltypay/core/events"
	"loyaltypay/core/types"
)

type rpcMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type ledgerMetrics struct {
	transactions *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	refunds      prometheus.Counter
	records      *prometheus.CounterVec
}

type rewardMetrics struct {
	followups *prometheus.CounterVec
	documents *prometheus.CounterVec
}

type gatewayMetrics struct {
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

type detectionMetrics struct {
	outcomes *prometheus.CounterVec
	latency  prometheus.Histogram
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	rewardMetricsOnce sync.Once
	rewardRegistry    *rewardMetrics

	detectionMetricsOnce sync.Once
	detectionRegistry    *detectionMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics
)

// RPC returns the lazily-initialised JSON-RPC metrics registry.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyaltypay",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method.",
			}, []string{"method"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "loyaltypay",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records one handled request.
func (m *rpcMetrics) Observe(method string, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.requests.WithLabelValues(method).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// Ledger returns the metrics registry tracking applied transactions.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyaltypay",
				Subsystem: "ledger",
				Name:      "transactions_total",
				Help:      "Applied transactions segmented by type and status.",
			}, []string{"type", "status"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyaltypay",
				Subsystem: "ledger",
				Name:      "settlements_total",
				Help:      "Settled loyalty payments segmented by mode and reward action.",
			}, []string{"mode", "reward_action"}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loyaltypay",
				Subsystem: "ledger",
				Name:      "refunded_units_total",
				Help:      "Token base units refunded to customers by settlements.",
			}),
			records: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyaltypay",
				Subsystem: "ledger",
				Name:      "records_total",
				Help:      "Loyalty record lifecycle transitions.",
			}, []string{"transition"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.transactions,
			ledgerRegistry.settlements,
			ledgerRegistry.refunds,
			ledgerRegistry.records,
		)
	})
	return ledgerRegistry
}

// RecordReceipt folds a receipt's status and loyalty events into the
// counters.
func (m *ledgerMetrics) RecordReceipt(receipt *types.Receipt) {
	if m == nil || receipt == nil {
		return
	}
	m.transactions.WithLabelValues(receipt.Type.String(), string(receipt.Status)).Inc()
	for _, evt := range receipt.Events {
		switch evt.Type {
		case events.TypeLoyaltyPaymentSettled:
			mode := "direct"
			if evt.Attributes["reference"] != "" {
				mode = "detected"
			}
			m.settlements.WithLabelValues(mode, evt.Attributes["rewardAction"]).Inc()
			if refund, err := strconv.ParseUint(evt.Attributes["refundAmount"], 10, 64); err == nil && refund > 0 {
				m.refunds.Add(float64(refund))
			}
		case events.TypeLoyaltyRecordCreated:
			m.records.WithLabelValues("created").Inc()
		case events.TypeLoyaltyRecordClosed:
			m.records.WithLabelValues("closed").Inc()
		}
	}
}

// Rewards returns the metrics registry for reward token follow-ups.
func Rewards() *rewardMetrics {
	rewardMetricsOnce.Do(func() {
		rewardRegistry = &rewardMetrics{
			followups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyaltypay",
				Subsystem: "rewards",
				Name:      "followups_total",
				Help:      "Reward token follow-ups segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			documents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyaltypay",
				Subsystem: "rewards",
				Name:      "documents_decoded_total",
				Help:      "Metadata documents decoded segmented by decode path.",
			}, []string{"path"}),
		}
		prometheus.MustRegister(rewardRegistry.followups, rewardRegistry.documents)
	})
	return rewardRegistry
}

// RecordFollowup counts a reward follow-up. Outcome is "ok", "noop" or
// "error".
func (m *rewardMetrics) RecordFollowup(action, outcome string) {
	if m == nil {
		return
	}
	m.followups.WithLabelValues(action, outcome).Inc()
}

// RecordDocument counts a decoded document by the path that accepted it:
// "strict", "normalized", "repaired" or "failed".
func (m *rewardMetrics) RecordDocument(path string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(path).Inc()
}

// Detection returns the metrics registry for payment detection.
func Detection() *detectionMetrics {
	detectionMetricsOnce.Do(func() {
		detectionRegistry = &detectionMetrics{
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyaltypay",
				Subsystem: "detection",
				Name:      "outcomes_total",
				Help:      "Payment detection attempts segmented by outcome.",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "loyaltypay",
				Subsystem: "detection",
				Name:      "duration_seconds",
				Help:      "Time from the start of polling to resolution or timeout.",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
			}),
		}
		prometheus.MustRegister(detectionRegistry.outcomes, detectionRegistry.latency)
	})
	return detectionRegistry
}

// Observe records a finished detection.
func (m *detectionMetrics) Observe(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.latency.Observe(duration.Seconds())
}

// Gateway returns the HTTP metrics for the merchant gateway.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyaltypay",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed by the gateway.",
			}, []string{"route", "method", "status"}),
			durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "loyaltypay",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(gatewayRegistry.requests, gatewayRegistry.durations)
	})
	return gatewayRegistry
}

func (m *gatewayMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.durations.WithLabelValues(route, method).Observe(duration.Seconds())
}
