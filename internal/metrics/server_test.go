package metrics_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/keybot/internal/metrics"
)

func TestServer_Health(t *testing.T) {
	s := metrics.NewServer(":0", func() map[string]any {
		return map[string]any{"admitted": 3}
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["admitted"])
}

func TestServer_Metrics(t *testing.T) {
	metrics.AdmissionResets.Inc()
	metrics.Purchases.WithLabelValues("CONFIRMED").Inc()

	s := metrics.NewServer(":0", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	out := rec.Body.String()
	assert.Contains(t, out, "keybot_admission_resets_total")
	assert.Contains(t, out, `keybot_purchases_total{status="CONFIRMED"}`)
}
