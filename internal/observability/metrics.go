package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	ledgerImbalanceCounter  *prometheus.CounterVec
	idempotencyCounter      *prometheus.CounterVec
	escrowTransitionCounter *prometheus.CounterVec
	webhookEventCounter     *prometheus.CounterVec
	payoutOutcomeCounter    *prometheus.CounterVec
	providerCallHistogram   *prometheus.HistogramVec
	deferredQueueGauge      prometheus.Gauge
	workerRunCounter        *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Number of times double-entry balances diverged",
		}, []string{"check"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		escrowTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_transitions_total",
			Help: "Escrow record transitions by subject kind and target status",
		}, []string{"kind", "status"})

		webhookEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound provider webhook outcomes",
		}, []string{"provider", "outcome"})

		payoutOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_outcomes_total",
			Help: "Withdrawal submission outcomes per provider",
		}, []string{"provider", "outcome"})

		providerCallHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Latency of outbound payment provider calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "op", "result"})

		deferredQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webhook_deferred_queue_size",
			Help: "Webhook events waiting for their subject to become ready",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			idempotencyCounter,
			escrowTransitionCounter,
			webhookEventCounter,
			payoutOutcomeCounter,
			providerCallHistogram,
			deferredQueueGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(check string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(check).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementEscrowTransition(kind, status string) {
	if escrowTransitionCounter == nil {
		return
	}
	escrowTransitionCounter.WithLabelValues(kind, status).Inc()
}

func IncrementWebhookEvent(provider, outcome string) {
	if webhookEventCounter == nil {
		return
	}
	webhookEventCounter.WithLabelValues(provider, outcome).Inc()
}

func IncrementPayoutOutcome(provider, outcome string) {
	if payoutOutcomeCounter == nil {
		return
	}
	payoutOutcomeCounter.WithLabelValues(provider, outcome).Inc()
}

// ObserveProviderCall records one outbound provider call.
func ObserveProviderCall(provider, op string, err error, duration time.Duration) {
	if providerCallHistogram == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerCallHistogram.WithLabelValues(provider, op, result).Observe(duration.Seconds())
}

func SetDeferredQueueSize(size int64) {
	if deferredQueueGauge == nil {
		return
	}
	deferredQueueGauge.Set(float64(size))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
