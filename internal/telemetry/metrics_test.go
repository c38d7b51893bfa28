package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// scrape はメトリクスハンドラの出力を文字列で返す。
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", rec.Code, http.StatusOK)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("レスポンスの読み込みに失敗: %v", err)
	}
	return string(body)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	t.Run("記録した値が公開されること", func(t *testing.T) {
		t.Parallel()

		m := NewMetrics()
		m.ObserveRequest("/api/me", "GET", "success")
		m.ObserveRequest("/api/me", "GET", "success")
		m.ObserveRejection("/api/auth/login")
		m.ObserveStage("ratelimit", 3*time.Millisecond)

		out := scrape(t, m)
		wants := []string{
			`hrgate_requests_total{method="GET",outcome="success",route="/api/me"} 2`,
			`hrgate_ratelimit_rejections_total{route="/api/auth/login"} 1`,
			`hrgate_stage_duration_seconds_count{stage="ratelimit"} 1`,
			`go_goroutines`,
		}
		for _, want := range wants {
			if !strings.Contains(out, want) {
				t.Errorf("出力に %q が含まれていない", want)
			}
		}
	})

	t.Run("インスタンスごとにレジストリが独立していること", func(t *testing.T) {
		t.Parallel()

		a := NewMetrics()
		b := NewMetrics()
		a.ObserveRejection("/api/payroll")

		if strings.Contains(scrape(t, b), "hrgate_ratelimit_rejections_total{") {
			t.Error("別インスタンスの値が公開されている")
		}
	})

	t.Run("nilのMetricsでもパニックしないこと", func(t *testing.T) {
		t.Parallel()

		var m *Metrics
		m.ObserveRequest("/", "GET", "success")
		m.ObserveRejection("/")
		m.ObserveStage("handler", time.Second)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}
