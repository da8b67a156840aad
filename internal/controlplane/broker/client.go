// client.go — HTTP-клиент к RabbitMQ Management HTTP API.
// Basic-аутентификация root-учёткой брокера. Клиент не меняется
// после создания и разделяется между запросами.
// Операции: PutUser, DeleteUser, PutPermissions, PutTopicPermissions, Overview.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bigkaa/intersect-registry/internal/controlplane"
)

// vhost — все namespace живут в vhost по умолчанию.
const vhost = "/"

// ManagementClient — HTTP-клиент к RabbitMQ Management API.
type ManagementClient struct {
	baseURL  string // с trailing slash
	username string
	password string

	httpClient *http.Client
	logger     *slog.Logger
}

// NewManagementClient создаёт клиент Management API.
// baseURL — URL management API с trailing slash (например, http://rabbitmq:15672/).
// httpClient — HTTP-клиент (может содержать TLS конфигурацию).
func NewManagementClient(baseURL string, root controlplane.Credentials, httpClient *http.Client, logger *slog.Logger) *ManagementClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &ManagementClient{
		baseURL:    baseURL,
		username:   root.Username,
		password:   root.Password,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "rabbitmq_management")),
	}
}

// --- HTTP helpers ---

// do выполняет запрос к Management API с Basic-аутентификацией.
// Транспортная ошибка — ErrBrokerUnavailable.
func (c *ManagementClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", controlplane.ErrBrokerUnavailable, method, path, err)
	}
	return resp, nil
}

// checkResponse проверяет статус ответа.
// 4xx — ErrBrokerRejected, 5xx — ErrBrokerUnavailable.
// Тело ответа пишется в лог, но не попадает в ошибку.
func (c *ManagementClient) checkResponse(resp *http.Response, op string) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.Error("Management API вернул ошибку",
		slog.String("operation", op),
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(body)),
	)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s: статус %d", controlplane.ErrBrokerUnavailable, op, resp.StatusCode)
	}
	return fmt.Errorf("%w: %s: статус %d", controlplane.ErrBrokerRejected, op, resp.StatusCode)
}

// userPath возвращает экранированный путь ресурса пользователя.
func userPath(prefix, username string) string {
	return prefix + url.PathEscape(username)
}

// vhostPath возвращает экранированный путь ресурса в vhost.
func vhostPath(prefix, username string) string {
	return prefix + url.PathEscape(vhost) + "/" + url.PathEscape(username)
}

// --- Users API ---

// PutUser создаёт пользователя или меняет ему пароль (PUT идемпотентен).
func (c *ManagementClient) PutUser(ctx context.Context, username, password string) error {
	resp, err := c.do(ctx, http.MethodPut, userPath("api/users/", username), userBody{
		Password: password,
		Tags:     []string{},
	})
	if err != nil {
		return err
	}
	return c.checkResponse(resp, "создание пользователя "+username)
}

// DeleteUser удаляет пользователя. Отсутствующий пользователь — не ошибка.
func (c *ManagementClient) DeleteUser(ctx context.Context, username string) error {
	resp, err := c.do(ctx, http.MethodDelete, userPath("api/users/", username), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil
	}
	return c.checkResponse(resp, "удаление пользователя "+username)
}

// --- Permissions API ---

// PutPermissions задаёт права пользователя на ресурсы vhost.
func (c *ManagementClient) PutPermissions(ctx context.Context, username string, p permissionsBody) error {
	resp, err := c.do(ctx, http.MethodPut, vhostPath("api/permissions/", username), p)
	if err != nil {
		return err
	}
	return c.checkResponse(resp, "права vhost для "+username)
}

// PutTopicPermissions задаёт права пользователя на routing key в exchange.
func (c *ManagementClient) PutTopicPermissions(ctx context.Context, username string, p topicPermissionsBody) error {
	resp, err := c.do(ctx, http.MethodPut, vhostPath("api/topic-permissions/", username), p)
	if err != nil {
		return err
	}
	return c.checkResponse(resp, "права topic для "+username)
}

// --- Overview ---

// Overview возвращает сведения о кластере. Используется для readiness.
func (c *ManagementClient) Overview(ctx context.Context) (*Overview, error) {
	resp, err := c.do(ctx, http.MethodGet, "api/overview", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.checkResponse(resp, "overview")
	}
	defer resp.Body.Close()

	var ov Overview
	if err := json.NewDecoder(resp.Body).Decode(&ov); err != nil {
		return nil, fmt.Errorf("декодирование overview: %w", err)
	}
	return &ov, nil
}

// CheckReady проверяет доступность Management API.
// Реализует интерфейс handlers.ReadinessChecker.
func (c *ManagementClient) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ov, err := c.Overview(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("RabbitMQ Management API недоступен: %v", err)
	}
	return "ok", "RabbitMQ " + ov.RabbitMQVersion
}
