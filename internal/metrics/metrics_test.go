package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily は名前でメトリクスファミリーを検索する。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// counterByLabel はラベル値ごとのカウンタ値を返す。
func counterByLabel(mf *dto.MetricFamily) map[string]float64 {
	values := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		values[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	return values
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestCollector_ImplementsInterface はCollectorがMetricsCollectorを満たすことを検証する。
func TestCollector_ImplementsInterface(t *testing.T) {
	var _ MetricsCollector = (*Collector)(nil)
}

// TestRecordReadArticle_IncrementsCounterWithLabel は結果別カウンタが増加することを検証する。
func TestRecordReadArticle_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReadArticle("fresh")
	c.RecordReadArticle("fresh")
	c.RecordReadArticle("synthesized")

	values := counterByLabel(findMetricFamily(t, reg, "newsvoice_read_article_total"))
	if values["fresh"] != 2 {
		t.Errorf("read_article_total{outcome=fresh} = %v, want 2", values["fresh"])
	}
	if values["synthesized"] != 1 {
		t.Errorf("read_article_total{outcome=synthesized} = %v, want 1", values["synthesized"])
	}
}

// TestRecordSynthesis_ObservesLatency は合成結果とレイテンシが記録されることを検証する。
func TestRecordSynthesis_ObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSynthesis("success", 3*time.Second)
	c.RecordSynthesis("failure", 500*time.Millisecond)

	values := counterByLabel(findMetricFamily(t, reg, "newsvoice_synthesis_total"))
	if values["success"] != 1 || values["failure"] != 1 {
		t.Errorf("synthesis_total = %v", values)
	}

	h := findMetricFamily(t, reg, "newsvoice_synthesis_latency_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は3.0 + 0.5 = 3.5秒
	if h.GetSampleSum() < 3.4 || h.GetSampleSum() > 3.6 {
		t.Errorf("sample_sum = %v, want ~3.5", h.GetSampleSum())
	}
}

// TestRecordURLIssue_IncrementsCounter はURL発行カウンタが増加することを検証する。
func TestRecordURLIssue_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordURLIssue("success")
	c.RecordURLIssue("failure")
	c.RecordURLIssue("failure")

	values := counterByLabel(findMetricFamily(t, reg, "newsvoice_url_issue_total"))
	if values["success"] != 1 || values["failure"] != 2 {
		t.Errorf("url_issue_total = %v", values)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(502)

	mf := findMetricFamily(t, reg, "newsvoice_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	values := counterByLabel(mf)
	if values["200"] != 2 || values["502"] != 1 {
		t.Errorf("http_status_total = %v", values)
	}
}

// TestRecordCoalescedRead_IncrementsCounter は相乗りカウンタが増加することを検証する。
func TestRecordCoalescedRead_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCoalescedRead()

	val := findMetricFamily(t, reg, "newsvoice_coalesced_reads_total").GetMetric()[0].GetCounter().GetValue()
	if val != 1 {
		t.Errorf("coalesced_reads_total = %v, want 1", val)
	}
}

// TestRecordPrewarm_IncrementsCounter はプリウォームカウンタが増加することを検証する。
func TestRecordPrewarm_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPrewarm("success")
	c.RecordPrewarm("failure")

	values := counterByLabel(findMetricFamily(t, reg, "newsvoice_prewarm_articles_total"))
	if values["success"] != 1 || values["failure"] != 1 {
		t.Errorf("prewarm_articles_total = %v", values)
	}
}
