package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.registry == nil {
		t.Fatal("registry is nil")
	}
}

func TestRecordStage(t *testing.T) {
	m := New()
	m.RecordStage("storage", 0.05)
	m.RecordStage("storage", 0.1)
	m.RecordStage("upsert", 0.2)

	val := counterValue(t, m.BatchesProcessed, "stage", "storage")
	if val != 2 {
		t.Errorf("expected 2 storage batches, got %f", val)
	}

	val = counterValue(t, m.BatchesProcessed, "stage", "upsert")
	if val != 1 {
		t.Errorf("expected 1 upsert batch, got %f", val)
	}
}

func TestRecordPagesCompleted(t *testing.T) {
	m := New()
	m.RecordPagesCompleted(4)
	m.RecordPagesCompleted(8)

	var metric dto.Metric
	if err := m.PagesCompleted.Write(&metric); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	if metric.GetCounter().GetValue() != 12 {
		t.Errorf("expected 12 pages completed, got %f", metric.GetCounter().GetValue())
	}
}

func TestRecordRegistryJoinTimeout(t *testing.T) {
	m := New()
	m.RecordRegistryJoinTimeout("image")
	m.RecordRegistryJoinTimeout("image")
	m.RecordRegistryJoinTimeout("ocr")

	val := counterValue(t, m.RegistryJoinTimeout, "registry", "image")
	if val != 2 {
		t.Errorf("expected 2 image timeouts, got %f", val)
	}
	val = counterValue(t, m.RegistryJoinTimeout, "registry", "ocr")
	if val != 1 {
		t.Errorf("expected 1 ocr timeout, got %f", val)
	}
}

func TestSetAdmissionPermitsInUse(t *testing.T) {
	m := New()
	m.SetAdmissionPermitsInUse(3)

	var metric dto.Metric
	if err := m.AdmissionPermits.Write(&metric); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	if metric.GetGauge().GetValue() != 3 {
		t.Errorf("expected 3 permits in use, got %f", metric.GetGauge().GetValue())
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordStage("storage", 0.05)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "ingest_batches_processed_total") {
		t.Error("metrics output missing ingest_batches_processed_total")
	}
	if !strings.Contains(body, "ingest_stage_duration_seconds") {
		t.Error("metrics output missing ingest_stage_duration_seconds")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing go runtime metrics")
	}
}

// counterValue extracts the value of a counter with the given label pairs.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labelPairs ...string) float64 {
	t.Helper()
	labels := prometheus.Labels{}
	for i := 0; i < len(labelPairs); i += 2 {
		labels[labelPairs[i]] = labelPairs[i+1]
	}
	counter, err := cv.GetMetricWith(labels)
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}
