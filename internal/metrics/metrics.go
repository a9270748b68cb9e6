// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 検証サービスやワーカーから利用する。
type MetricsCollector interface {
	RecordValidation()
	RecordIssuesDetected(category string, count int)
	RecordFetchLatency(duration time.Duration)
	RecordUpstreamStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	validations    prometheus.Counter
	issuesDetected *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	upstreamStatus *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		validations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteaudit_validations_total",
			Help: "実行された検証の合計数",
		}),
		issuesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteaudit_issues_detected_total",
			Help: "カテゴリ別の検出問題数",
		}, []string{"category"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "siteaudit_fetch_latency_seconds",
			Help:    "検証対象ページフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteaudit_upstream_status_total",
			Help: "検証対象ページのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.validations,
		c.issuesDetected,
		c.fetchLatency,
		c.upstreamStatus,
	)

	return c
}

// RecordValidation は検証実行を記録する。
func (c *Collector) RecordValidation() {
	c.validations.Inc()
}

// RecordIssuesDetected はカテゴリ別の検出問題数を記録する。
func (c *Collector) RecordIssuesDetected(category string, count int) {
	if count <= 0 {
		return
	}
	c.issuesDetected.WithLabelValues(category).Add(float64(count))
}

// RecordFetchLatency はページフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordUpstreamStatus は検証対象のHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
