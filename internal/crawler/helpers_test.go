package crawler

import (
	"bytes"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/shownotifier/internal/metrics"
)

// mockURLGuard はURLGuardのテスト用モック。httptestサーバー（127.0.0.1）に接続できるよう検証を行わない。
type mockURLGuard struct {
	validateErr error
}

func (m *mockURLGuard) ValidateURL(_ string) error {
	return m.validateErr
}

func (m *mockURLGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestFetcher(t *testing.T, guard *mockURLGuard) (*Fetcher, *prometheus.Registry, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	f := NewFetcher(guard, metrics.NewCollector(reg), newTestLogger(&buf), FetcherOptions{
		Timeout:     5 * time.Second,
		MaxBodySize: 1 << 20,
		UserAgent:   "ShowNotifier-Test/1.0",
	})
	return f, reg, &buf
}

// counterValue は名前とラベル値が一致するカウンタの値を返す。
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}
