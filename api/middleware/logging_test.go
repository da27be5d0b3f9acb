package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

func TestLoggingRecordsRouteAndStatus(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "api-test", Output: &buf})

	r := chi.NewRouter()
	r.Use(Logging(logg))
	r.Get("/api/v1/batches/{batchId}/due-payments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/batches/b1/due-payments", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "request.complete", line["message"])
	assert.Equal(t, "/api/v1/batches/{batchId}/due-payments", line["route"])
	assert.Equal(t, float64(http.StatusAccepted), line["status"])
	assert.Equal(t, float64(2), line["bytes"])
}

func TestLoggingKeepsProbesAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "api-test", Output: &buf, Level: zerolog.InfoLevel})

	Logging(logg)(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Zero(t, buf.Len())
}

func TestCORSPreflightExposesHeaders(t *testing.T) {
	handler := CORS(nil)(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/payments/cash", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", idempotencyHeader)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, "http://localhost:3000", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header().Get("Access-Control-Allow-Credentials"))

	actual := httptest.NewRequest(http.MethodGet, "/", nil)
	actual.Header.Set("Origin", "https://evil.example.com")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, actual)
	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}
