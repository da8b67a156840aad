// rabbitmq.go — обработчик RabbitMQ: учётки и права через Management API.
// Права на routing key задаются topic authorisation в общем exchange,
// права на ресурсы vhost ограничены exchange и собственными очередями.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/bigkaa/intersect-registry/internal/config"
	"github.com/bigkaa/intersect-registry/internal/controlplane"
	"github.com/bigkaa/intersect-registry/internal/domain/model"
)

// cleanupTimeout — время на удаление только что созданной учётки
// после неудачной выдачи прав.
const cleanupTimeout = 10 * time.Second

// RabbitMQHandler — обработчик брокера RabbitMQ.
type RabbitMQHandler struct {
	client     *ManagementClient
	isAMQP     bool
	systemName string
	logger     *slog.Logger
}

// NewRabbitMQ создаёт обработчик RabbitMQ поверх клиента Management API.
func NewRabbitMQ(client *ManagementClient, protocol, systemName string, logger *slog.Logger) *RabbitMQHandler {
	return &RabbitMQHandler{
		client:     client,
		isAMQP:     protocol == config.ProtocolAMQP091,
		systemName: systemName,
		logger:     logger.With(slog.String("component", "rabbitmq_broker")),
	}
}

// clientPermissions — права общей учётки Client.
// Публикация: свои CLIENT_* ключи и любые request/response.
// Подписка: свои CLIENT_* ключи и любые events.
func (h *RabbitMQHandler) clientPermissions() (permissionsBody, topicPermissionsBody) {
	sys := regexp.QuoteMeta(h.systemName)
	exchange := regexp.QuoteMeta(controlplane.ExchangeName)
	prefix := regexp.QuoteMeta(model.ClientPrefix)

	return permissionsBody{
			Configure: fmt.Sprintf(`^%s.*$`, prefix),
			Write:     fmt.Sprintf(`^%s$`, exchange),
			Read:      fmt.Sprintf(`^(%s|%s.*)$`, exchange, prefix),
		}, topicPermissionsBody{
			Exchange: controlplane.ExchangeName,
			Write:    fmt.Sprintf(`^(%s\.%s.*|.*\.request|.*\.response)$`, sys, prefix),
			Read:     fmt.Sprintf(`^(%s\.%s.*|.*\.events)$`, sys, prefix),
		}
}

// namespacePermissions — права учётки namespace.
// Публикация: свой префикс и любые request/response.
// Подписка: свой префикс и любые events. Конфигурирование запрещено.
func (h *RabbitMQHandler) namespacePermissions(name string) (permissionsBody, topicPermissionsBody) {
	sys := regexp.QuoteMeta(h.systemName)
	ns := regexp.QuoteMeta(name)
	exchange := regexp.QuoteMeta(controlplane.ExchangeName)

	return permissionsBody{
			Configure: `^$`,
			Write:     fmt.Sprintf(`^%s$`, exchange),
			Read:      fmt.Sprintf(`^(%s|%s_(request|response))$`, exchange, ns),
		}, topicPermissionsBody{
			Exchange: controlplane.ExchangeName,
			Write:    fmt.Sprintf(`^(%s\.%s\..*|.*\.request|.*\.response)$`, sys, ns),
			Read:     fmt.Sprintf(`^(%s\.%s\..*|.*\.events)$`, sys, ns),
		}
}

// grant выдаёт права vhost и topic.
func (h *RabbitMQHandler) grant(ctx context.Context, username string, p permissionsBody, tp topicPermissionsBody) error {
	if err := h.client.PutPermissions(ctx, username, p); err != nil {
		return err
	}
	return h.client.PutTopicPermissions(ctx, username, tp)
}

// InitializeBroker создаёт общую учётку Client. PUT идемпотентен:
// повторный вызов обновляет ту же учётку, второй не появляется.
func (h *RabbitMQHandler) InitializeBroker(ctx context.Context, client controlplane.Credentials) error {
	if !h.isAMQP {
		return fmt.Errorf("%w: права RabbitMQ для mqtt5.0", controlplane.ErrNotImplemented)
	}

	if err := h.client.PutUser(ctx, client.Username, client.Password); err != nil {
		return fmt.Errorf("учётка Client %s: %w", client.Username, err)
	}

	p, tp := h.clientPermissions()
	if err := h.grant(ctx, client.Username, p, tp); err != nil {
		return fmt.Errorf("права учётки Client %s: %w", client.Username, err)
	}

	h.logger.Info("Учётка Client инициализирована", slog.String("username", client.Username))
	return nil
}

// InitializeNamespaceConfig создаёт учётку <name>_user со случайным паролем.
// Если выдача прав не удалась, созданная учётка удаляется, и
// наружу уходит одна ошибка: права не бывают применены частично.
func (h *RabbitMQHandler) InitializeNamespaceConfig(ctx context.Context, name string) (controlplane.Credentials, error) {
	if !h.isAMQP {
		return controlplane.Credentials{}, fmt.Errorf("%w: права RabbitMQ для mqtt5.0", controlplane.ErrNotImplemented)
	}

	password, err := model.GenerateSecret()
	if err != nil {
		return controlplane.Credentials{}, fmt.Errorf("генерация пароля: %w", err)
	}
	creds := controlplane.Credentials{Username: model.BrokerUsername(name), Password: password}

	if err := h.client.PutUser(ctx, creds.Username, creds.Password); err != nil {
		return controlplane.Credentials{}, fmt.Errorf("учётка namespace %s: %w", name, err)
	}

	p, tp := h.namespacePermissions(name)
	if grantErr := h.grant(ctx, creds.Username, p, tp); grantErr != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()

		if delErr := h.client.DeleteUser(cleanupCtx, creds.Username); delErr != nil {
			h.logger.Error("Не удалось удалить учётку после ошибки выдачи прав",
				slog.String("username", creds.Username),
				slog.String("error", delErr.Error()),
			)
			return controlplane.Credentials{}, fmt.Errorf("права namespace %s: %w",
				name, errors.Join(grantErr, delErr))
		}
		return controlplane.Credentials{}, fmt.Errorf("права namespace %s: %w", name, grantErr)
	}

	h.logger.Info("Учётка namespace создана",
		slog.String("namespace", name),
		slog.String("username", creds.Username),
	)
	return creds, nil
}

// RemoveNamespaceConfig удаляет учётку <name>_user.
// Активные соединения учётки не разрываются принудительно.
func (h *RabbitMQHandler) RemoveNamespaceConfig(ctx context.Context, name string) error {
	username := model.BrokerUsername(name)
	if err := h.client.DeleteUser(ctx, username); err != nil {
		return fmt.Errorf("удаление учётки namespace %s: %w", name, err)
	}

	h.logger.Info("Учётка namespace удалена",
		slog.String("namespace", name),
		slog.String("username", username),
	)
	return nil
}
