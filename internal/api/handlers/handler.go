// handler.go — основной обработчик API Registry Service.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bigkaa/intersect-registry/internal/domain/model"
	"github.com/bigkaa/intersect-registry/internal/service"
)

// NamespaceService — операции управления namespace (service.RegistrationService).
type NamespaceService interface {
	Register(ctx context.Context, name, owner string) (*service.Registration, error)
	Get(ctx context.Context, name, principal, role string) (*model.Namespace, error)
	Deregister(ctx context.Context, name, principal, role string) error
	List(ctx context.Context, owner *string, limit, offset int) ([]*model.Namespace, int, error)
}

// ConnectionResolver — выдача конфигураций SDK (service.ConnectionService).
type ConnectionResolver interface {
	ResolveConnectionInfo(ctx context.Context, name, apiKey string) (*model.ConnectionConfig, error)
	ClientConfig(ctx context.Context, apiKey string) (*model.ClientConfig, error)
}

// APIHandler — основной обработчик API Registry Service.
type APIHandler struct {
	health      *HealthHandler
	namespaces  NamespaceService
	connections ConnectionResolver
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	namespaces NamespaceService,
	connections ConnectionResolver,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		namespaces:  namespaces,
		connections: connections,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — проверка liveness (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — проверка readiness (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// Ping — GET /api/v1/ping. Всегда 204.
func (h *APIHandler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// queryInt возвращает целочисленный query-параметр или nil.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}
