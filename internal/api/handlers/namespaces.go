// namespaces.go — обработчики /api/v1/namespaces endpoints.
// Регистрация, список, получение и удаление namespace операторами.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/intersect-registry/internal/api/errors"
	"github.com/bigkaa/intersect-registry/internal/api/middleware"
	"github.com/bigkaa/intersect-registry/internal/domain/model"
)

// namespaceCreateRequest — тело POST /api/v1/namespaces.
type namespaceCreateRequest struct {
	Name string `json:"name"`
}

// namespaceResponse — представление namespace в API.
// APIKey заполняется только для владельца при создании и получении.
type namespaceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	APIKey    string    `json:"api_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// namespaceListResponse — ответ GET /api/v1/namespaces.
type namespaceListResponse struct {
	Items   []namespaceResponse `json:"items"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	HasMore bool                `json:"has_more"`
}

// RegisterNamespace — POST /api/v1/namespaces.
// Резервирует имя и создаёт ресурсы брокера. Владелец — текущий принципал.
func (h *APIHandler) RegisterNamespace(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	var req namespaceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	reg, err := h.namespaces.Register(r.Context(), req.Name, claims.Principal)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, mapNamespace(reg.Namespace, true))
}

// ListNamespaces — GET /api/v1/namespaces.
// Оператор видит только свои namespace.
func (h *APIHandler) ListNamespaces(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}
	h.listNamespaces(w, r, &claims.Principal)
}

// ListAllNamespaces — GET /api/v1/admin/namespaces.
// Все namespace всех владельцев. Роль admin проверяется middleware.RequireRole.
func (h *APIHandler) ListAllNamespaces(w http.ResponseWriter, r *http.Request) {
	h.listNamespaces(w, r, nil)
}

// listNamespaces отдаёт страницу namespace владельца (owner == nil — всех).
func (h *APIHandler) listNamespaces(w http.ResponseWriter, r *http.Request, owner *string) {
	limitParam, err := queryInt(r, "limit")
	if err != nil {
		apierrors.ValidationError(w, "Параметр limit должен быть целым числом")
		return
	}
	offsetParam, err := queryInt(r, "offset")
	if err != nil {
		apierrors.ValidationError(w, "Параметр offset должен быть целым числом")
		return
	}
	limit, offset := paginationDefaults(limitParam, offsetParam)

	items, total, err := h.namespaces.List(r.Context(), owner, limit, offset)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	resp := namespaceListResponse{
		Items:   make([]namespaceResponse, len(items)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
	for i, ns := range items {
		resp.Items[i] = mapNamespace(ns, false)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetNamespace — GET /api/v1/namespaces/{name}.
// Возвращает namespace вместе с API-ключом владельцу или admin.
func (h *APIHandler) GetNamespace(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	ns, err := h.namespaces.Get(r.Context(), chi.URLParam(r, "name"), claims.Principal, claims.Role)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapNamespace(ns, true))
}

// DeregisterNamespace — DELETE /api/v1/namespaces/{name}.
// Удаляет ресурсы брокера и запись. Доступ: владелец или admin.
func (h *APIHandler) DeregisterNamespace(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	if err := h.namespaces.Deregister(r.Context(), chi.URLParam(r, "name"), claims.Principal, claims.Role); err != nil {
		apierrors.FromService(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// mapNamespace конвертирует model.Namespace в представление API.
func mapNamespace(ns *model.Namespace, withKey bool) namespaceResponse {
	resp := namespaceResponse{
		ID:        ns.ID,
		Name:      ns.Name,
		Owner:     ns.OwnerPrincipal,
		CreatedAt: ns.CreatedAt,
		UpdatedAt: ns.UpdatedAt,
	}
	if withKey {
		resp.APIKey = ns.APIKey
	}
	return resp
}
