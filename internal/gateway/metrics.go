package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/marketgate/pkg/proxy"
)

// metrics はゲートウェイのPrometheusメトリクス。
// テストで複数のサーバーを生成できるよう、サーバーごとにレジストリを持つ。
type metrics struct {
	registry *prometheus.Registry

	// outcomes はパイプラインの終端状態ごとのリクエスト数。
	outcomes *prometheus.CounterVec
	// duration はパイプライン全体の処理時間。
	duration *prometheus.HistogramVec
	// upstream は上流サービス呼び出しの処理時間。
	upstream *prometheus.HistogramVec
	// logins はログイン試行の結果ごとの件数。
	logins *prometheus.CounterVec
	// revocations はログアウトで失効させたトークン数。
	revocations prometheus.Counter
}

func newMetrics(bucketCount func() float64) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketgate_requests_total",
			Help: "Requests by final pipeline stage and error code",
		}, []string{"stage", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketgate_request_duration_seconds",
			Help:    "Time spent in the admission pipeline including forwarding",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketgate_upstream_duration_seconds",
			Help:    "Upstream round trip time by route pattern and result",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketgate_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketgate_revocations_total",
			Help: "Tokens revoked through logout",
		}),
	}

	m.registry.MustRegister(
		m.outcomes,
		m.duration,
		m.upstream,
		m.logins,
		m.revocations,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "marketgate_rate_limit_buckets",
			Help: "Client buckets currently held by the rate limiter",
		}, bucketCount),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) observeOutcome(stage Stage, code string, elapsed time.Duration) {
	m.outcomes.WithLabelValues(stage.String(), code).Inc()
	m.duration.WithLabelValues(stage.String()).Observe(elapsed.Seconds())
}

func (m *metrics) observeUpstream(pattern string, err error, elapsed time.Duration) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, proxy.ErrUpstreamTimeout):
		result = "timeout"
	case errors.Is(err, proxy.ErrClientCanceled):
		result = "canceled"
	default:
		result = "unavailable"
	}
	m.upstream.WithLabelValues(pattern, result).Observe(elapsed.Seconds())
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
