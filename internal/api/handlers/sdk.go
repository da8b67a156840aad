// sdk.go — endpoints, которыми SDK получает конфигурацию подключения.
// API-ключ передаётся в заголовке Authorization как есть, без схемы.
package handlers

import (
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/intersect-registry/internal/api/errors"
)

// ServiceConfig — GET /api/v1/service_config?service_name=<name>.
// Возвращает конфигурацию брокера для процесса namespace.
func (h *APIHandler) ServiceConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.connections.ResolveConnectionInfo(r.Context(),
		r.URL.Query().Get("service_name"), apiKeyFromRequest(r))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ClientConfig — GET /api/v1/client_config.
// Возвращает общую конфигурацию Client со сгенерированным именем.
func (h *APIHandler) ClientConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.connections.ClientConfig(r.Context(), apiKeyFromRequest(r))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// apiKeyFromRequest извлекает API-ключ из заголовка Authorization.
func apiKeyFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Authorization"))
}
