package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"go.olrik.dev/relaunch/internal/metrics"
)

func TestSetStateMarksOnlyCurrent(t *testing.T) {
	all := []string{"idle", "running", "failed"}
	metrics.SetState("running", all)

	for _, s := range all {
		want := 0.0
		if s == "running" {
			want = 1
		}
		if got := testutil.ToFloat64(metrics.OrchestratorState.WithLabelValues(s)); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestRecordTrigger(t *testing.T) {
	accepted := testutil.ToFloat64(metrics.TriggersTotal.WithLabelValues("accepted"))
	dropped := testutil.ToFloat64(metrics.TriggersTotal.WithLabelValues("dropped"))

	metrics.RecordTrigger(true)
	metrics.RecordTrigger(false)
	metrics.RecordTrigger(false)

	if got := testutil.ToFloat64(metrics.TriggersTotal.WithLabelValues("accepted")); got != accepted+1 {
		t.Errorf("accepted = %v, want %v", got, accepted+1)
	}
	if got := testutil.ToFloat64(metrics.TriggersTotal.WithLabelValues("dropped")); got != dropped+2 {
		t.Errorf("dropped = %v, want %v", got, dropped+2)
	}
}

func TestPromhttpExposure(t *testing.T) {
	metrics.RelayConnected.Set(1)

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "relaunch_relay_connected 1") {
		t.Errorf("expected relay gauge in exposition, got:\n%s", body)
	}
}
