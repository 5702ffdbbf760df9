package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを返す。見つからなければnil。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if want != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

func TestRecordFetch_CountsByStatusAndObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetch("lostfilm", 200, 150*time.Millisecond)
	c.RecordFetch("lostfilm", 200, 50*time.Millisecond)
	c.RecordFetch("lostfilm", 503, time.Second)

	ok := findMetric(t, reg, "shownotifier_fetch_total", map[string]string{"source": "lostfilm", "status_code": "200"})
	if ok == nil {
		t.Fatal("fetch_total{status_code=200} not found")
	}
	if got := ok.GetCounter().GetValue(); got != 2 {
		t.Errorf("fetch_total{200} = %v, want 2", got)
	}

	unavailable := findMetric(t, reg, "shownotifier_fetch_total", map[string]string{"source": "lostfilm", "status_code": "503"})
	if unavailable == nil || unavailable.GetCounter().GetValue() != 1 {
		t.Errorf("fetch_total{503} = %v, want 1", unavailable)
	}

	latency := findMetric(t, reg, "shownotifier_fetch_latency_seconds", map[string]string{"source": "lostfilm"})
	if latency == nil {
		t.Fatal("fetch_latency_seconds not found")
	}
	if got := latency.GetHistogram().GetSampleCount(); got != 3 {
		t.Errorf("latency sample count = %d, want 3", got)
	}
}

func TestRecordFetchError(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchError("newstudio", "backoff")

	m := findMetric(t, reg, "shownotifier_fetch_errors_total", map[string]string{"source": "newstudio", "reason": "backoff"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("fetch_errors_total = %v, want 1", m)
	}
}

func TestRecordSightingsAndOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSightings("alexfilm", 12)
	c.RecordShowOutcome("alexfilm", "notified")
	c.RecordShowOutcome("alexfilm", "notified")
	c.RecordShowOutcome("alexfilm", "unknown_show")
	c.RecordWatermarkAdvanced("alexfilm")

	if m := findMetric(t, reg, "shownotifier_sightings_total", map[string]string{"source": "alexfilm"}); m == nil || m.GetCounter().GetValue() != 12 {
		t.Errorf("sightings_total = %v, want 12", m)
	}
	if m := findMetric(t, reg, "shownotifier_shows_processed_total", map[string]string{"source": "alexfilm", "outcome": "notified"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Errorf("shows_processed_total{notified} = %v, want 2", m)
	}
	if m := findMetric(t, reg, "shownotifier_shows_processed_total", map[string]string{"source": "alexfilm", "outcome": "unknown_show"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("shows_processed_total{unknown_show} = %v, want 1", m)
	}
	if m := findMetric(t, reg, "shownotifier_watermarks_advanced_total", map[string]string{"source": "alexfilm"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("watermarks_advanced_total = %v, want 1", m)
	}
}

func TestRecordNotification(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordNotification(true)
	c.RecordNotification(true)
	c.RecordNotification(false)

	if m := findMetric(t, reg, "shownotifier_notifications_total", map[string]string{"result": "sent"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Errorf("notifications_total{sent} = %v, want 2", m)
	}
	if m := findMetric(t, reg, "shownotifier_notifications_total", map[string]string{"result": "failed"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("notifications_total{failed} = %v, want 1", m)
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリのCollectorが独立していることを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordSightings("lostfilm", 3)

	if m := findMetric(t, reg2, "shownotifier_sightings_total", map[string]string{"source": "lostfilm"}); m != nil {
		t.Errorf("reg2 should not have lostfilm sightings, got %v", m)
	}
}

func TestPush_SendsToPushgateway(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordNotification(true)
	c.MarkRunCompleted(time.Unix(1700000000, 0))

	if err := Push(context.Background(), ts.URL, reg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotPath != "/metrics/job/"+JobName {
		t.Errorf("path = %s, want /metrics/job/%s", gotPath, JobName)
	}
	if !strings.Contains(gotBody, "shownotifier_notifications_total") {
		t.Error("pushed body should contain notifications metric")
	}
}

func TestPush_GatewayErrorIsReturned(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	if err := Push(context.Background(), ts.URL, reg); err == nil {
		t.Fatal("expected error when pushgateway responds 500")
	}
}
