// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// 取り込み、パイプライン、画像解決の各層から利用する。
type Recorder interface {
	RecordArticlesIngested(count int)
	RecordFeedFetchFailure()
	RecordCaptionGenerated(parseMode string)
	RecordValidationFailure()
	RecordGenerationLatency(duration time.Duration)
	RecordPublish(outcome string)
	RecordImageResolved(source string)
}

// 投稿結果のラベル値。
const (
	PublishOutcomeSuccess = "success"
	PublishOutcomeRetry   = "retry"
	PublishOutcomeFailed  = "failed"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	articlesIngested   prometheus.Counter
	feedFetchFail      prometheus.Counter
	captionsGenerated  *prometheus.CounterVec
	validationFailures prometheus.Counter
	generationLatency  prometheus.Histogram
	publishOutcomes    *prometheus.CounterVec
	imagesResolved     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		articlesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedcaster_articles_ingested_total",
			Help: "取り込まれた新規記事の合計数",
		}),
		feedFetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedcaster_feed_fetch_fail_total",
			Help: "RSSフィード取得失敗の合計数",
		}),
		captionsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedcaster_captions_generated_total",
			Help: "パースモード別のキャプション生成数",
		}, []string{"parse_mode"}),
		validationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedcaster_caption_validation_failures_total",
			Help: "安全性検証に不合格となったキャプション生成の合計数",
		}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedcaster_generation_latency_seconds",
			Help:    "キャプション生成1回あたりのレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		publishOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedcaster_publish_attempts_total",
			Help: "結果別の投稿試行数",
		}, []string{"outcome"}),
		imagesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedcaster_images_resolved_total",
			Help: "取得元別の画像解決数",
		}, []string{"source"}),
	}

	reg.MustRegister(
		c.articlesIngested,
		c.feedFetchFail,
		c.captionsGenerated,
		c.validationFailures,
		c.generationLatency,
		c.publishOutcomes,
		c.imagesResolved,
	)

	return c
}

// RecordArticlesIngested は新規に取り込んだ記事数を記録する。
func (c *Collector) RecordArticlesIngested(count int) {
	c.articlesIngested.Add(float64(count))
}

// RecordFeedFetchFailure はフィード取得失敗を記録する。
func (c *Collector) RecordFeedFetchFailure() {
	c.feedFetchFail.Inc()
}

// RecordCaptionGenerated はキャプション生成をパースモード別に記録する。
func (c *Collector) RecordCaptionGenerated(parseMode string) {
	c.captionsGenerated.WithLabelValues(parseMode).Inc()
}

// RecordValidationFailure は安全性検証の不合格を記録する。
func (c *Collector) RecordValidationFailure() {
	c.validationFailures.Inc()
}

// RecordGenerationLatency は生成のレイテンシを記録する。
func (c *Collector) RecordGenerationLatency(duration time.Duration) {
	c.generationLatency.Observe(duration.Seconds())
}

// RecordPublish は投稿試行の結果を記録する。
func (c *Collector) RecordPublish(outcome string) {
	c.publishOutcomes.WithLabelValues(outcome).Inc()
}

// RecordImageResolved は画像の取得元（existing, og, pexels など）を記録する。
func (c *Collector) RecordImageResolved(source string) {
	c.imagesResolved.WithLabelValues(source).Inc()
}

// Nop は何も記録しないRecorder。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordArticlesIngested(int)            {}
func (Nop) RecordFeedFetchFailure()               {}
func (Nop) RecordCaptionGenerated(string)         {}
func (Nop) RecordValidationFailure()              {}
func (Nop) RecordGenerationLatency(time.Duration) {}
func (Nop) RecordPublish(string)                  {}
func (Nop) RecordImageResolved(string)            {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
