package protocol

import (
	"context"
	"fmt"

	"github.com/bigkaa/intersect-registry/internal/controlplane"
)

// MQTTHandler — обработчик MQTT 5.0. Топология MQTT не поддерживается:
// каждый вызов явно возвращает ErrNotImplemented.
type MQTTHandler struct{}

func (h *MQTTHandler) InitializeBroker(_ context.Context) error {
	return fmt.Errorf("%w: инициализация брокера для mqtt5.0", controlplane.ErrNotImplemented)
}

func (h *MQTTHandler) InitializeNamespace(_ context.Context, name string) error {
	return fmt.Errorf("%w: очереди namespace %s для mqtt5.0", controlplane.ErrNotImplemented, name)
}

func (h *MQTTHandler) RemoveNamespace(_ context.Context, name string) error {
	return fmt.Errorf("%w: удаление namespace %s для mqtt5.0", controlplane.ErrNotImplemented, name)
}
