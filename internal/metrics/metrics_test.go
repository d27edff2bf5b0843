package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordsAndServes(t *testing.T) {
	m := New()

	m.ObserveStage("translate", "failed", 20*time.Millisecond)
	m.ObserveStage("translate", "failed", 10*time.Millisecond)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Pruned()
	m.TTSAttempt("gemini", false)
	m.TTSAttempt("gtts", true)

	if got := testutil.ToFloat64(m.stageTotal.WithLabelValues("translate", "failed")); got != 2 {
		t.Fatalf("stage counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 1 {
		t.Fatalf("active sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ttsEngine.WithLabelValues("gemini", "error")); got != 1 {
		t.Fatalf("tts counter = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"medrelay_pipeline_stage_total", "medrelay_broadcast_pruned_total", "medrelay_active_sessions"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStage("persist", "ok", time.Millisecond)
	m.SessionOpened()
	m.SessionClosed()
	m.Pruned()
	m.TTSAttempt("gtts", true)
}
