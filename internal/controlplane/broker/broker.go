// Пакет broker — обработчики брокеров: учётки и права доступа.
// Топологией (exchange, очереди) занимается controlplane/protocol.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bigkaa/intersect-registry/internal/config"
	"github.com/bigkaa/intersect-registry/internal/controlplane"
)

// Handler — операции над учётками брокера для одного продукта.
type Handler interface {
	// InitializeBroker создаёт общую учётку Client с фиксированными правами.
	InitializeBroker(ctx context.Context, client controlplane.Credentials) error
	// InitializeNamespaceConfig создаёт учётку namespace и возвращает её.
	// Это единственное место, где появляется пароль в открытом виде.
	InitializeNamespaceConfig(ctx context.Context, name string) (controlplane.Credentials, error)
	// RemoveNamespaceConfig удаляет учётку namespace. Очереди не трогает.
	RemoveNamespaceConfig(ctx context.Context, name string) error
}

// Options — параметры выбора обработчика брокера.
type Options struct {
	// Application — продукт брокера (rabbitmq).
	Application string
	// Development — режим разработки: учётки не создаются, выдаётся root.
	Development   bool
	ManagementURI string
	SystemName    string
	Endpoint      controlplane.Endpoint
	HTTPClient    *http.Client
}

// New создаёт обработчик брокера. Выбор делается один раз при старте.
func New(opts Options, logger *slog.Logger) (Handler, error) {
	if opts.Development {
		logger.Warn("Режим разработки: учётки брокера не создаются, выдаётся root-учётка")
		return NewDevelopment(opts.Endpoint.Root), nil
	}

	switch opts.Application {
	case config.BrokerRabbitMQ:
		client := NewManagementClient(opts.ManagementURI, opts.Endpoint.Root, opts.HTTPClient, logger)
		return NewRabbitMQ(client, opts.Endpoint.Protocol, opts.SystemName, logger), nil
	default:
		return nil, fmt.Errorf("неизвестный брокер %q", opts.Application)
	}
}
