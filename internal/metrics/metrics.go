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
// 音声キャッシュ制御、HTTPミドルウェア、プリウォームワーカーから利用する。
type MetricsCollector interface {
	RecordReadArticle(outcome string)
	RecordSynthesis(result string, duration time.Duration)
	RecordURLIssue(result string)
	RecordCoalescedRead()
	RecordHTTPStatus(statusCode int)
	RecordPrewarm(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	readArticle      *prometheus.CounterVec
	synthesis        *prometheus.CounterVec
	urlIssue         *prometheus.CounterVec
	synthesisLatency prometheus.Histogram
	httpStatus       *prometheus.CounterVec
	coalescedReads   prometheus.Counter
	prewarm          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		readArticle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsvoice_read_article_total",
			Help: "記事音声URL要求の結果別の合計数",
		}, []string{"outcome"}),
		synthesis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsvoice_synthesis_total",
			Help: "音声合成の結果別の合計数",
		}, []string{"result"}),
		urlIssue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsvoice_url_issue_total",
			Help: "署名付きURL発行の結果別の合計数",
		}, []string{"result"}),
		synthesisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "newsvoice_synthesis_latency_seconds",
			Help: "音声合成のレイテンシ（秒）",
			// 長文の合成は数十秒かかるためDefBucketsより広く取る
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsvoice_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		coalescedReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsvoice_coalesced_reads_total",
			Help: "同一記事の処理中に相乗りした要求の合計数",
		}),
		prewarm: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsvoice_prewarm_articles_total",
			Help: "プリウォームで処理した記事の結果別の合計数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.readArticle,
		c.synthesis,
		c.urlIssue,
		c.synthesisLatency,
		c.httpStatus,
		c.coalescedReads,
		c.prewarm,
	)

	return c
}

// RecordReadArticle は記事音声URL要求の結果を記録する。
func (c *Collector) RecordReadArticle(outcome string) {
	c.readArticle.WithLabelValues(outcome).Inc()
}

// RecordSynthesis は音声合成の結果とレイテンシを記録する。
func (c *Collector) RecordSynthesis(result string, duration time.Duration) {
	c.synthesis.WithLabelValues(result).Inc()
	c.synthesisLatency.Observe(duration.Seconds())
}

// RecordURLIssue は署名付きURL発行の結果を記録する。
func (c *Collector) RecordURLIssue(result string) {
	c.urlIssue.WithLabelValues(result).Inc()
}

// RecordCoalescedRead は相乗りした要求を記録する。
func (c *Collector) RecordCoalescedRead() {
	c.coalescedReads.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordPrewarm はプリウォームの処理結果を記録する。
func (c *Collector) RecordPrewarm(result string) {
	c.prewarm.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
