// Package metrics はPrometheusメトリクスの収集とPushgatewayへの送信を提供する。
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder はメトリクス記録のインターフェース。
// クローラー、差分処理、通知ゲートウェイから利用する。
type Recorder interface {
	RecordFetch(source string, statusCode int, duration time.Duration)
	RecordFetchError(source, reason string)
	RecordSightings(source string, count int)
	RecordShowOutcome(source, outcome string)
	RecordNotification(delivered bool)
	RecordWatermarkAdvanced(source string)
}

// JobName はPushgateway上のジョブ名。
const JobName = "shownotifier"

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetches       *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	sightings     *prometheus.CounterVec
	showOutcomes  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	watermarks    *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shownotifier_fetch_total",
			Help: "ソース別・HTTPステータス別の取得数",
		}, []string{"source", "status_code"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shownotifier_fetch_errors_total",
			Help: "ソース別・分類別の取得失敗数",
		}, []string{"source", "reason"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shownotifier_fetch_latency_seconds",
			Help:    "ページ取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		sightings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shownotifier_sightings_total",
			Help: "クローラーが観測したエピソード数",
		}, []string{"source"}),
		showOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shownotifier_shows_processed_total",
			Help: "結果別の番組処理数",
		}, []string{"source", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shownotifier_notifications_total",
			Help: "通知の送信結果別の件数",
		}, []string{"result"}),
		watermarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shownotifier_watermarks_advanced_total",
			Help: "前進したウォーターマークの数",
		}, []string{"source"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shownotifier_last_run_timestamp_seconds",
			Help: "最後に実行が完了したUNIX時刻",
		}),
	}

	reg.MustRegister(
		c.fetches,
		c.fetchErrors,
		c.fetchLatency,
		c.sightings,
		c.showOutcomes,
		c.notifications,
		c.watermarks,
		c.lastRun,
	)

	return c
}

var _ Recorder = (*Collector)(nil)

// RecordFetch はHTTPレスポンスを受け取った取得を記録する。
func (c *Collector) RecordFetch(source string, statusCode int, duration time.Duration) {
	c.fetches.WithLabelValues(source, strconv.Itoa(statusCode)).Inc()
	c.fetchLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordFetchError は取得失敗を分類付きで記録する。
func (c *Collector) RecordFetchError(source, reason string) {
	c.fetchErrors.WithLabelValues(source, reason).Inc()
}

// RecordSightings は観測したエピソード数を記録する。
func (c *Collector) RecordSightings(source string, count int) {
	c.sightings.WithLabelValues(source).Add(float64(count))
}

// RecordShowOutcome は番組単位の処理結果を記録する。
func (c *Collector) RecordShowOutcome(source, outcome string) {
	c.showOutcomes.WithLabelValues(source, outcome).Inc()
}

// RecordNotification は通知の送信結果を記録する。
func (c *Collector) RecordNotification(delivered bool) {
	result := "sent"
	if !delivered {
		result = "failed"
	}
	c.notifications.WithLabelValues(result).Inc()
}

// RecordWatermarkAdvanced はウォーターマークの前進を記録する。
func (c *Collector) RecordWatermarkAdvanced(source string) {
	c.watermarks.WithLabelValues(source).Inc()
}

// MarkRunCompleted は実行完了時刻を記録する。
func (c *Collector) MarkRunCompleted(now time.Time) {
	c.lastRun.Set(float64(now.Unix()))
}

// Push は収集したメトリクスをPushgatewayへ送信する。
// 1回実行のプロセスはスクレイプされる前に終了するため、終了前に呼び出す。
func Push(ctx context.Context, gatewayURL string, gatherer prometheus.Gatherer) error {
	if err := push.New(gatewayURL, JobName).Gatherer(gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
