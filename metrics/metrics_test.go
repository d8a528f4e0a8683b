package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandlerExposesCollectors(t *testing.T) {
	RunsTotal.WithLabelValues("succeeded").Inc()
	CleanupDeleted.WithLabelValues("output").Add(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `taxiflow_batch_runs_total{status="succeeded"}`)
	assert.Contains(t, rec.Body.String(), `taxiflow_cleanup_files_deleted_total{category="output"}`)
}

func TestCounterVecLabels(t *testing.T) {
	before := testutil.ToFloat64(IngestMessages.WithLabelValues("malformed"))
	IngestMessages.WithLabelValues("malformed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(IngestMessages.WithLabelValues("malformed")))
}
