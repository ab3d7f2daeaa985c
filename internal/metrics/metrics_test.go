package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAdmission(t *testing.T) {
	m := New()
	m.RecordAdmission(true, "emma")
	m.RecordAdmission(true, "emma")
	m.RecordAdmission(false, "emma")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissionDecisions.WithLabelValues("allowed", "emma")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissionDecisions.WithLabelValues("denied", "emma")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordAdmission(true, "emma")
	m.RecordStoreError()
	m.ObserveBackend("ok", time.Second)
	m.RecordHTTPRequest("GET", "/", 200)
	m.SetBudgetSpent("daily", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RecordStoreError()
	m.RecordHTTPRequest("POST", "/api/chat", 429)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "moodcycle_admission_store_errors_total 1")
	assert.Contains(t, rec.Body.String(), `moodcycle_http_requests_total{method="POST",route="/api/chat",status="429"} 1`)
}

func TestSetBudgetSpent(t *testing.T) {
	m := New()
	m.SetBudgetSpent("daily", 0.5)
	m.SetBudgetSpent("daily", 0.75)

	assert.Equal(t, 0.75, testutil.ToFloat64(m.budgetSpent.WithLabelValues("daily")))
}
