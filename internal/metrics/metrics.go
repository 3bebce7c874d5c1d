package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

// Registry 进程内指标注册表
var Registry = prometheus.NewRegistry()

var (
	// Redemptions 兑换结果，result 为成功或错误分类码
	Redemptions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redemptions_total",
		Help:      "Redemption attempts by result.",
	}, []string{"type", "result"})

	// PaymentEvents 支付事件处理结果
	PaymentEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_events_total",
		Help:      "Normalized payment events by status and outcome.",
	}, []string{"kind", "status", "outcome"})

	CreditsGranted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credits_granted_total",
		Help:      "Credits granted by scene.",
	}, []string{"scene"})

	CreditsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credits_consumed_total",
		Help:      "Credits consumed by scene.",
	}, []string{"scene"})

	Withdrawals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "withdraw_actions_total",
		Help:      "Withdrawal lifecycle actions.",
	}, []string{"action"})

	HTTPRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Redemptions,
		PaymentEvents,
		CreditsGranted,
		CreditsConsumed,
		Withdrawals,
		HTTPRequests,
	)
}

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
