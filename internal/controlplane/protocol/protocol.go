// Пакет protocol — обработчики протоколов обмена сообщениями.
// Отвечают только за топологию: общий exchange и очереди namespace.
// Учётки и права — забота controlplane/broker.
package protocol

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/intersect-registry/internal/config"
	"github.com/bigkaa/intersect-registry/internal/controlplane"
)

// Handler — операции над топологией брокера для одного протокола.
// Обработчик не повторяет операции: решение о повторе принимает вызывающий.
type Handler interface {
	// InitializeBroker идемпотентно объявляет общий exchange.
	InitializeBroker(ctx context.Context) error
	// InitializeNamespace объявляет и привязывает очереди namespace.
	InitializeNamespace(ctx context.Context, name string) error
	// RemoveNamespace удаляет очереди namespace. Exchange не трогается.
	RemoveNamespace(ctx context.Context, name string) error
}

// New создаёт обработчик для протокола endpoint.Protocol.
// Протокол выбирается один раз при старте и не меняется.
func New(endpoint controlplane.Endpoint, systemName string, logger *slog.Logger, opts ...AMQPOption) (Handler, error) {
	switch endpoint.Protocol {
	case config.ProtocolAMQP091:
		return NewAMQP(endpoint, systemName, logger, opts...), nil
	case config.ProtocolMQTT50:
		return &MQTTHandler{}, nil
	default:
		return nil, fmt.Errorf("неизвестный протокол %q", endpoint.Protocol)
	}
}
