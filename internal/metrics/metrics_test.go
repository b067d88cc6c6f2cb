package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStream(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveStream(StatusOK, 3, time.Second)
	m.ObserveStream(StatusError, 1, time.Second)

	if got := testutil.ToFloat64(m.StreamsTotal.WithLabelValues(StatusOK)); got != 1 {
		t.Errorf("expected 1 ok stream, got %v", got)
	}
	if got := testutil.ToFloat64(m.ChunksTotal); got != 4 {
		t.Errorf("expected 4 chunks, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStream(StatusOK, 1, time.Millisecond)
	m.ObserveImage(StatusError)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveImage(StatusOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `studio_image_generations_total{status="ok"} 1`) {
		t.Errorf("expected image counter in output, got:\n%s", rec.Body.String())
	}
}
