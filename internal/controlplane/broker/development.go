package broker

import (
	"context"

	"github.com/bigkaa/intersect-registry/internal/controlplane"
)

// DevelopmentHandler — обработчик режима разработки. Не создаёт учёток:
// каждый namespace получает root-учётку брокера. Только для полностью
// доверенного локального окружения.
type DevelopmentHandler struct {
	root controlplane.Credentials
}

// NewDevelopment создаёт обработчик режима разработки.
func NewDevelopment(root controlplane.Credentials) *DevelopmentHandler {
	return &DevelopmentHandler{root: root}
}

func (h *DevelopmentHandler) InitializeBroker(_ context.Context, _ controlplane.Credentials) error {
	return nil
}

func (h *DevelopmentHandler) InitializeNamespaceConfig(_ context.Context, _ string) (controlplane.Credentials, error) {
	return h.root, nil
}

func (h *DevelopmentHandler) RemoveNamespaceConfig(_ context.Context, _ string) error {
	return nil
}
