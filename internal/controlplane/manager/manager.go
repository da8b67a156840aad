// Пакет manager — фасад слоя управления брокером.
// Объединяет обработчик протокола и обработчик брокера, выбранные
// конфигурацией при старте, и строит URI подключения для SDK.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/intersect-registry/internal/controlplane"
	"github.com/bigkaa/intersect-registry/internal/controlplane/broker"
	"github.com/bigkaa/intersect-registry/internal/controlplane/protocol"
)

// Manager — композиция обработчика протокола и обработчика брокера.
type Manager struct {
	protocol protocol.Handler
	broker   broker.Handler
	endpoint controlplane.Endpoint
	client   controlplane.Credentials
	logger   *slog.Logger
}

// New создаёт Manager.
// endpoint — параметры подключения SDK к брокеру,
// client — общая учётка Client, создаваемая при InitializeBroker.
func New(
	protocolHandler protocol.Handler,
	brokerHandler broker.Handler,
	endpoint controlplane.Endpoint,
	client controlplane.Credentials,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		protocol: protocolHandler,
		broker:   brokerHandler,
		endpoint: endpoint,
		client:   client,
		logger:   logger.With(slog.String("component", "config_manager")),
	}
}

// InitializeBroker готовит брокер: exchange, затем учётка Client.
// Вызывается один раз при старте до приёма регистраций.
func (m *Manager) InitializeBroker(ctx context.Context) error {
	if err := m.protocol.InitializeBroker(ctx); err != nil {
		return fmt.Errorf("инициализация топологии: %w", err)
	}
	if err := m.broker.InitializeBroker(ctx, m.client); err != nil {
		return fmt.Errorf("инициализация учётки Client: %w", err)
	}

	m.logger.Info("Брокер инициализирован",
		slog.String("protocol", m.endpoint.Protocol),
		slog.String("host", m.endpoint.Host),
	)
	return nil
}

// AddNamespace создаёт очереди namespace, затем его учётку.
// Если учётку создать не удалось, очереди остаются: решение о
// компенсации принимает вызывающий.
func (m *Manager) AddNamespace(ctx context.Context, name string) (controlplane.Credentials, error) {
	if err := m.protocol.InitializeNamespace(ctx, name); err != nil {
		return controlplane.Credentials{}, fmt.Errorf("топология namespace %s: %w", name, err)
	}

	creds, err := m.broker.InitializeNamespaceConfig(ctx, name)
	if err != nil {
		return controlplane.Credentials{}, fmt.Errorf("учётка namespace %s: %w", name, err)
	}
	return creds, nil
}

// RemoveNamespace удаляет учётку namespace, затем его очереди.
// Выполняются оба шага, ошибки объединяются.
func (m *Manager) RemoveNamespace(ctx context.Context, name string) error {
	var errs []error
	if err := m.broker.RemoveNamespaceConfig(ctx, name); err != nil {
		errs = append(errs, fmt.Errorf("учётка namespace %s: %w", name, err))
	}
	if err := m.protocol.RemoveNamespace(ctx, name); err != nil {
		errs = append(errs, fmt.Errorf("топология namespace %s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Protocol возвращает тег протокола брокера.
func (m *Manager) Protocol() string {
	return m.endpoint.Protocol
}

// TLSCert возвращает PEM-сертификат CA брокера или nil.
func (m *Manager) TLSCert() *string {
	if !m.endpoint.UseTLS() {
		return nil
	}
	cert := m.endpoint.TLSCert
	return &cert
}

// ClientURI возвращает URI брокера с общей учёткой Client.
func (m *Manager) ClientURI() string {
	return m.endpoint.URI(m.client)
}

// RootURI возвращает URI брокера с root-учёткой. Только для режима разработки.
func (m *Manager) RootURI() string {
	return m.endpoint.URI(m.endpoint.Root)
}

// NamespaceURI возвращает URI брокера с учёткой namespace.
func (m *Manager) NamespaceURI(creds controlplane.Credentials) string {
	return m.endpoint.URI(creds)
}
