package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyhawk/mentiond/internal/metrics"
)

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestStatusEndpoint(t *testing.T) {
	srv, q := newTestServer(t)

	body := webhookBody(t)
	deliver := httptest.NewRequest(http.MethodPost, "/webhooks/mentions", bytes.NewReader(body))
	deliver.Header.Set(signatureHeader, signPayload(testSecret, body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, deliver)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, q.jobs, 1)

	statusReq := httptest.NewRequest(http.MethodGet, "/status", nil)
	statusRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(statusRec, statusReq)

	require.Equal(t, http.StatusOK, statusRec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.QueueDepth)
	assert.EqualValues(t, 1, resp.Claims["size"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	reg := prometheus.NewRegistry()
	srv.metrics = metrics.NewRegistry(reg)
	srv.gatherer = reg
	mux := http.NewServeMux()
	srv.setupRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRequestIDGenerated(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := newTestServer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(srv.logger)(mux)

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
