package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCheck("comprehensive", "completed", time.Second, nil)
		m.IncSubmission("created")
		m.ObserveRequest("GET", "/api/applications", 200)
	})
	assert.Nil(t, m.Registry())
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	score := 42.0
	m.ObserveCheck("comprehensive", "completed", 2*time.Second, &score)
	m.ObserveCheck("comprehensive", "failed", time.Second, nil)
	m.IncSubmission("created")
	m.IncSubmission("created")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.checksTotal.WithLabelValues("comprehensive", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("created")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "funnel_compliance_checks_total"))
}
