// connection.go — выдача конфигурации подключения к брокеру
// SDK-сервисам (по имени namespace и API-ключу) и эфемерным Client.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/intersect-registry/internal/controlplane"
	"github.com/bigkaa/intersect-registry/internal/domain/model"
	"github.com/bigkaa/intersect-registry/internal/repository"
)

// BrokerEndpoints — построение URI брокера для выдаваемых конфигураций.
type BrokerEndpoints interface {
	Protocol() string
	TLSCert() *string
	ClientURI() string
	RootURI() string
	NamespaceURI(creds controlplane.Credentials) string
}

// ConnectionOptions — параметры ConnectionService.
type ConnectionOptions struct {
	// SystemName — имя системы, возвращается в каждой конфигурации
	SystemName string
	// ClientAPIKey — общий ключ, по которому выдаётся конфигурация Client
	ClientAPIKey string
	// DevelopmentAPIKey — ключ режима разработки (пустой — режим выключен)
	DevelopmentAPIKey string
}

// ConnectionService разрешает API-ключи в конфигурации подключения.
type ConnectionService struct {
	repo      repository.NamespaceRepository
	endpoints BrokerEndpoints
	cache     *LookupCache
	opts      ConnectionOptions
	logger    *slog.Logger
}

// NewConnectionService создаёт ConnectionService. cache может быть nil.
func NewConnectionService(
	repo repository.NamespaceRepository,
	endpoints BrokerEndpoints,
	cache *LookupCache,
	opts ConnectionOptions,
	logger *slog.Logger,
) *ConnectionService {
	return &ConnectionService{
		repo:      repo,
		endpoints: endpoints,
		cache:     cache,
		opts:      opts,
		logger:    logger.With(slog.String("component", "connection")),
	}
}

// ResolveConnectionInfo возвращает конфигурацию подключения namespace.
// Неизвестное имя и неверный ключ неразличимы: оба дают ErrForbidden.
func (s *ConnectionService) ResolveConnectionInfo(ctx context.Context, name, apiKey string) (*model.ConnectionConfig, error) {
	if apiKey == "" {
		return nil, ErrForbidden
	}

	// В режиме разработки имя namespace не проверяется
	if s.isDevelopmentKey(apiKey) {
		s.logger.Debug("Выдана конфигурация режима разработки", slog.String("namespace", name))
		return s.connectionConfig(s.endpoints.RootURI()), nil
	}

	if name == "" {
		return nil, ErrForbidden
	}

	if s.cache != nil {
		if cfg, ok := s.cache.Get(name, apiKey); ok {
			return cfg, nil
		}
	}

	ns, err := s.repo.FindByNameAndKey(ctx, name, apiKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrForbidden
		}
		s.logger.Error("Ошибка поиска namespace",
			slog.String("namespace", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: поиск namespace", ErrServerFault)
	}

	creds, err := s.repo.CredentialsFor(ctx, ns.ID)
	if err != nil {
		s.logger.Error("Ошибка чтения учёток namespace",
			slog.String("namespace", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: учётки namespace", ErrServerFault)
	}
	if len(creds) == 0 {
		// Namespace без учёток — след PartiallyProvisioned
		s.logger.Error("У namespace нет учёток брокера",
			slog.Bool("alert", true),
			slog.String("namespace", name),
			slog.String("namespace_id", ns.ID),
		)
		return nil, fmt.Errorf("%w: у namespace нет учёток брокера", ErrServerFault)
	}

	cfg := &model.ConnectionConfig{
		SystemName: s.opts.SystemName,
		Brokers:    make([]model.BrokerConfig, 0, len(creds)),
		DataStores: []model.DataStoreConfig{},
	}
	for _, c := range creds {
		cfg.Brokers = append(cfg.Brokers, s.brokerConfig(s.endpoints.NamespaceURI(controlplane.Credentials{
			Username: c.BrokerUsername,
			Password: c.BrokerPassword,
		})))
	}

	if s.cache != nil {
		s.cache.Set(name, apiKey, cfg)
	}
	return cfg, nil
}

// ClientConfig возвращает конфигурацию эфемерного Client со свежим именем.
// В режиме разработки выдаётся URI с root-учёткой.
func (s *ConnectionService) ClientConfig(_ context.Context, apiKey string) (*model.ClientConfig, error) {
	if apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.opts.ClientAPIKey)) != 1 {
		return nil, ErrForbidden
	}

	uri := s.endpoints.ClientURI()
	if s.DevelopmentMode() {
		uri = s.endpoints.RootURI()
	}

	return &model.ClientConfig{
		ConnectionConfig: *s.connectionConfig(uri),
		ClientName:       model.NewClientName(),
	}, nil
}

// DevelopmentMode сообщает, включён ли режим разработки.
func (s *ConnectionService) DevelopmentMode() bool {
	return s.opts.DevelopmentAPIKey != ""
}

func (s *ConnectionService) isDevelopmentKey(apiKey string) bool {
	if s.opts.DevelopmentAPIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.opts.DevelopmentAPIKey)) == 1
}

func (s *ConnectionService) connectionConfig(uri string) *model.ConnectionConfig {
	return &model.ConnectionConfig{
		SystemName: s.opts.SystemName,
		Brokers:    []model.BrokerConfig{s.brokerConfig(uri)},
		DataStores: []model.DataStoreConfig{},
	}
}

func (s *ConnectionService) brokerConfig(uri string) model.BrokerConfig {
	return model.BrokerConfig{
		Protocol: s.endpoints.Protocol(),
		URI:      uri,
		TLS:      s.endpoints.TLSCert(),
	}
}
