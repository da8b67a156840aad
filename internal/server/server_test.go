package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/intersect-registry/internal/api/handlers"
	"github.com/bigkaa/intersect-registry/internal/api/middleware"
	"github.com/bigkaa/intersect-registry/internal/config"
	"github.com/bigkaa/intersect-registry/internal/domain/model"
	"github.com/bigkaa/intersect-registry/internal/service"
)

type noopNamespaces struct{}

func (noopNamespaces) Register(context.Context, string, string) (*service.Registration, error) {
	return nil, service.ErrServerFault
}

func (noopNamespaces) Get(context.Context, string, string, string) (*model.Namespace, error) {
	return nil, service.ErrNotFound
}

func (noopNamespaces) Deregister(context.Context, string, string, string) error {
	return service.ErrNotFound
}

func (noopNamespaces) List(context.Context, *string, int, int) ([]*model.Namespace, int, error) {
	return nil, 0, nil
}

type denyConnections struct{}

func (denyConnections) ResolveConnectionInfo(context.Context, string, string) (*model.ConnectionConfig, error) {
	return nil, service.ErrForbidden
}

func (denyConnections) ClientConfig(context.Context, string) (*model.ClientConfig, error) {
	return nil, service.ErrForbidden
}

type okChecker struct{}

func (okChecker) CheckReady() (string, string) { return "ok", "" }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(`{"keys":[]}`))
	require.NoError(t, err)
	jwtAuth := middleware.NewJWTAuthWithKeyfunc(kf, "", "", nil, logger)

	h := handlers.NewAPIHandler(
		handlers.NewHealthHandler(okChecker{}, okChecker{}),
		noopNamespaces{}, denyConnections{}, logger,
	)
	return NewRouter(logger, h, jwtAuth)
}

func TestRouter(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health/live", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/ping", http.StatusNoContent},
		{http.MethodGet, "/api/v1/service_config?service_name=x", http.StatusForbidden},
		{http.MethodGet, "/api/v1/client_config", http.StatusForbidden},
		// Управление namespace требует JWT
		{http.MethodPost, "/api/v1/namespaces", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/namespaces", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/namespaces/weather-sim", http.StatusUnauthorized},
		{http.MethodDelete, "/api/v1/namespaces/weather-sim", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/admin/namespaces", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
		{http.MethodPut, "/api/v1/ping", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestWriteTimeout(t *testing.T) {
	tests := []struct {
		step time.Duration
		want time.Duration
	}{
		{time.Second, 60 * time.Second},
		{30 * time.Second, 130 * time.Second},
		{time.Minute, 250 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.step.String(), func(t *testing.T) {
			got := writeTimeout(tt.step)
			assert.Equal(t, tt.want, got)
			assert.Greater(t, got, sagaSteps*tt.step, "ответ регистрации не обрывается до конца саги")
		})
	}
}

func TestNew_WriteTimeoutFromStepTimeout(t *testing.T) {
	cfg := &config.Config{Port: 8000, BrokerOperationTimeout: 30 * time.Second}
	srv := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)
	assert.Equal(t, 130*time.Second, srv.httpServer.WriteTimeout)
}
