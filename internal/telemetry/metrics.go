// Package telemetry はゲートウェイのメトリクスとトレースを提供する。
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics はゲートウェイのPrometheusメトリクス。
// プロセス全体のレジストリではなく専用のレジストリに登録する。
// nilのMetricsに対する記録は何もしない。
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       *prometheus.CounterVec
	rateLimitRejections *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
}

// NewMetrics は新しいレジストリとメトリクスを生成する。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrgate_requests_total",
				Help: "Total number of requests handled by the gateway pipeline",
			},
			[]string{"route", "method", "outcome"},
		),
		rateLimitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrgate_ratelimit_rejections_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hrgate_stage_duration_seconds",
				Help:    "Duration of each gateway pipeline stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
}

// ObserveRequest は処理済みリクエストを1件数える。
func (m *Metrics) ObserveRequest(route, method, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, outcome).Inc()
}

// ObserveRejection はレート制限による拒否を1件数える。
func (m *Metrics) ObserveRejection(route string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(route).Inc()
}

// ObserveStage はパイプラインのステージの所要時間を記録する。
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler はレジストリの内容を公開するHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
