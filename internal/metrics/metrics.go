// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 取り込み処理と画像キャッシュから利用する。
type MetricsCollector interface {
	RecordRefreshSuccess(feedID string)
	RecordRefreshFailure(feedID string, reason string)
	RecordParseFailure(feedID string)
	RecordRefreshLatency(duration time.Duration)
	RecordNewEntries(count int)
	RecordImageStored()
	RecordImageFailed()
	RecordEntriesExpired(count int)
}

// 失敗理由のラベル値。
const (
	ReasonConnect = "connect"
	ReasonParse   = "parse"
	ReasonStore   = "store"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	refreshSuccess prometheus.Counter
	refreshFail    *prometheus.CounterVec
	parseFail      prometheus.Counter
	refreshLatency prometheus.Histogram
	newEntries     prometheus.Counter
	imagesStored   prometheus.Counter
	imagesFailed   prometheus.Counter
	entriesExpired prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groborss_refresh_success_total",
			Help: "フィード更新成功の合計数",
		}),
		refreshFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groborss_refresh_fail_total",
			Help: "フィード更新失敗の理由別の合計数",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groborss_parse_fail_total",
			Help: "フィード解析失敗の合計数",
		}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "groborss_refresh_latency_seconds",
			Help:    "フィード1件の更新にかかった時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		newEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groborss_new_entries_total",
			Help: "新着となった記事の合計数",
		}),
		imagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groborss_images_stored_total",
			Help: "キャッシュに保存した画像の合計数",
		}),
		imagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groborss_images_failed_total",
			Help: "保存に失敗した画像の合計数",
		}),
		entriesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groborss_entries_expired_total",
			Help: "保持期間切れで削除した記事の合計数",
		}),
	}

	reg.MustRegister(
		c.refreshSuccess,
		c.refreshFail,
		c.parseFail,
		c.refreshLatency,
		c.newEntries,
		c.imagesStored,
		c.imagesFailed,
		c.entriesExpired,
	)

	return c
}

// RecordRefreshSuccess はフィード更新の成功を記録する。
func (c *Collector) RecordRefreshSuccess(feedID string) {
	c.refreshSuccess.Inc()
}

// RecordRefreshFailure はフィード更新の失敗を理由とともに記録する。
func (c *Collector) RecordRefreshFailure(feedID string, reason string) {
	c.refreshFail.WithLabelValues(reason).Inc()
}

// RecordParseFailure は解析失敗を記録する。
func (c *Collector) RecordParseFailure(feedID string) {
	c.parseFail.Inc()
}

// RecordRefreshLatency はフィード1件の更新時間を記録する。
func (c *Collector) RecordRefreshLatency(duration time.Duration) {
	c.refreshLatency.Observe(duration.Seconds())
}

// RecordNewEntries は新着記事数を記録する。
func (c *Collector) RecordNewEntries(count int) {
	c.newEntries.Add(float64(count))
}

// RecordImageStored は画像の保存を記録する。
func (c *Collector) RecordImageStored() {
	c.imagesStored.Inc()
}

// RecordImageFailed は画像の保存失敗を記録する。
func (c *Collector) RecordImageFailed() {
	c.imagesFailed.Inc()
}

// RecordEntriesExpired は期限切れで削除した記事数を記録する。
func (c *Collector) RecordEntriesExpired(count int) {
	c.entriesExpired.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordRefreshSuccess(string) {}
func (Nop) RecordRefreshFailure(string, string) {}
func (Nop) RecordParseFailure(string) {}
func (Nop) RecordRefreshLatency(time.Duration) {}
func (Nop) RecordNewEntries(int) {}
func (Nop) RecordImageStored() {}
func (Nop) RecordImageFailed() {}
func (Nop) RecordEntriesExpired(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
