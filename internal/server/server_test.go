package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendpath/funnel/pkg/compliance"
	"github.com/lendpath/funnel/pkg/enrich/registry"
	"github.com/lendpath/funnel/pkg/metrics"
	"github.com/lendpath/funnel/pkg/storage"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeRegistry struct {
	matches []registry.Match
	err     error
}

func (f fakeRegistry) Search(ctx context.Context, q string) ([]registry.Match, error) {
	return f.matches, f.err
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "funnel.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logrus.New()
	log.Out = io.Discard

	s := New(db, "", "")
	s.Log = log
	s.Metrics = metrics.New()
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func validApplication() map[string]any {
	return map[string]any{
		"session_id":         "session-1",
		"loan_type":          "business-loan",
		"requested_amount":   "50000",
		"first_name":         "Jane",
		"last_name":          "Doe",
		"email":              "jane@example.com",
		"postal_code":        "M5V 3A8",
		"business_name":      "Acme Widgets Inc.",
		"business_confirmed": true,
		"consent_accepted":   true,
		"existing_loans":     []map[string]any{{"lender": "BDC", "balance": "1000"}},
	}
}

func TestApplicationRoutes(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()

	rec := doJSON(t, h, http.MethodPost, "/api/applications", validApplication())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created storage.Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, storage.StatusSubmitted, created.Status)
	assert.Equal(t, "business-loan", created.LoanType)
	assert.Equal(t, "50000", created.RequestedAmount.Decimal.String())

	rec = doJSON(t, h, http.MethodGet, "/api/applications/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/applications/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/applications/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/applications?page=1&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page storage.ApplicationPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.Limit)

	rec = doJSON(t, h, http.MethodGet, "/api/applications?page=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateApplicationValidation(t *testing.T) {
	h := newTestServer(t).Router()

	body := validApplication()
	delete(body, "email")
	delete(body, "loan_type")
	rec := doJSON(t, h, http.MethodPost, "/api/applications", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "loan_type, email")

	req := httptest.NewRequest(http.MethodPost, "/api/applications", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateApplicationStatus(t *testing.T) {
	h := newTestServer(t).Router()
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/applications", validApplication()).Code)

	tests := []struct {
		status string
		code   int
	}{
		{"reviewing", http.StatusOK},
		{"more-info-needed", http.StatusOK},
		{"submitted", http.StatusBadRequest},
		{"funded", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := doJSON(t, h, http.MethodPatch, "/api/applications/1/status", map[string]string{"status": tt.status})
		assert.Equal(t, tt.code, rec.Code, tt.status)
	}

	rec := doJSON(t, h, http.MethodPatch, "/api/applications/7/status", map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestComplianceCheckRoutes(t *testing.T) {
	h := newTestServer(t).Router()

	rec := doJSON(t, h, http.MethodPost, "/api/compliance-checks", map[string]any{"check_type": "website", "session_id": "session-1", "subject": "acme.ca"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var check storage.ComplianceCheck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.Equal(t, storage.CheckPending, check.Status)

	rec = doJSON(t, h, http.MethodPost, "/api/compliance-checks", map[string]any{"check_type": "credit"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/api/compliance-checks/"+check.ID, map[string]any{"status": "completed", "risk_score": 12.5, "result": map[string]any{"ok": true}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPatch, "/api/compliance-checks/"+check.ID, map[string]any{"status": "failed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/api/compliance-checks/"+check.ID, map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/compliance-checks/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The check was started in session-1, so the application picks it up.
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/applications", validApplication()).Code)
	rec = doJSON(t, h, http.MethodGet, "/api/applications/1/compliance-checks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var checks []storage.ComplianceCheck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checks))
	require.Len(t, checks, 1)
	assert.Equal(t, check.ID, checks[0].ID)

	rec = doJSON(t, h, http.MethodGet, "/api/applications/2/compliance-checks", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpsertUserRoute(t *testing.T) {
	h := newTestServer(t).Router()
	rec := doJSON(t, h, http.MethodPost, "/api/users/upsert", map[string]any{"email": "jane@example.com", "first_name": "Jane"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/users/upsert", map[string]any{"first_name": "Nobody"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComprehensiveRunsInBackground(t *testing.T) {
	s := newTestServer(t)
	release := make(chan struct{})
	s.Dispatcher = compliance.NewDispatcher(s.DB, compliance.CheckerFunc(func(ctx context.Context, req compliance.Request) (*compliance.Report, error) {
		<-release
		return nil, errors.New("dial tcp: i/o timeout")
	}), compliance.WithLogger(s.Log), compliance.WithMetrics(s.Metrics))
	h := s.Router()

	rec := doJSON(t, h, http.MethodPost, "/api/compliance/comprehensive", map[string]any{"businessWebsite": "example.com", "businessName": "Acme", "applicationId": nil})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var check storage.ComplianceCheck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.Equal(t, storage.CheckPending, check.Status)

	close(release)
	s.Dispatcher.Wait()

	got, err := s.DB.GetComplianceCheck(context.Background(), check.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.CheckFailed, got.Status)
	assert.Equal(t, "dial tcp: i/o timeout", got.ErrorMessage)

	rec = doJSON(t, h, http.MethodPost, "/api/compliance/comprehensive", map[string]any{"businessWebsite": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/compliance/comprehensive", map[string]any{"businessWebsite": "localhost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnrichmentRoutes(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()

	for _, path := range []string{"/api/registry/search?q=acme", "/api/address/autocomplete?text=123+main"} {
		assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, h, http.MethodGet, path, nil).Code, path)
	}
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, h, http.MethodPost, "/api/compliance/comprehensive", map[string]any{}).Code)

	s.Enrichment.Registry = fakeRegistry{matches: []registry.Match{{LegalName: "ACME INC.", Score: 1}}}
	h = s.Router()
	rec := doJSON(t, h, http.MethodGet, "/api/registry/search?q=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ACME INC.")
	assert.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodGet, "/api/registry/search", nil).Code)

	s.Enrichment.Registry = fakeRegistry{err: errors.New("upstream down")}
	h = s.Router()
	assert.Equal(t, http.StatusBadGateway, doJSON(t, h, http.MethodGet, "/api/registry/search?q=acme", nil).Code)
}

func TestBasicAuth(t *testing.T) {
	s := newTestServer(t)
	s.Username, s.Password = "admin", "secret"
	h := s.Router()

	rec := doJSON(t, h, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/healthz", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t).Router()
	doJSON(t, h, http.MethodGet, "/healthz", nil)
	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `funnel_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}
