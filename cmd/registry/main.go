// Точка входа Registry Service — реестр namespace системы INTERSECT.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// готовит брокер (exchange и учётка Client), создаёт сервисный слой
// и API handlers, запускает topologymetrics и HTTP-сервер
// с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/intersect-registry/internal/api/handlers"
	"github.com/bigkaa/intersect-registry/internal/api/middleware"
	"github.com/bigkaa/intersect-registry/internal/config"
	"github.com/bigkaa/intersect-registry/internal/controlplane"
	"github.com/bigkaa/intersect-registry/internal/controlplane/broker"
	"github.com/bigkaa/intersect-registry/internal/controlplane/manager"
	"github.com/bigkaa/intersect-registry/internal/controlplane/protocol"
	"github.com/bigkaa/intersect-registry/internal/database"
	"github.com/bigkaa/intersect-registry/internal/repository"
	"github.com/bigkaa/intersect-registry/internal/server"
	"github.com/bigkaa/intersect-registry/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Registry Service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("system", cfg.SystemName),
		slog.String("protocol", cfg.BrokerProtocol),
	)
	if cfg.DevelopmentMode() {
		logger.Warn("Включён режим разработки: ACL брокера не применяются, SDK получает root-учётку")
	}

	// 3. Применение миграций БД
	if cfg.RunMigrations {
		logger.Info("Применение миграций БД...")
		if _, err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. HTTP-клиент management API (с CA брокера, если задан)
	var mgmtHTTPClient *http.Client
	if cfg.BrokerTLSCert != "" {
		mgmtHTTPClient = buildHTTPClientWithCA([]byte(cfg.BrokerTLSCert))
		logger.Info("CA-сертификат брокера загружен", slog.String("path", cfg.BrokerTLSCertPath))
	}

	// 6. Слой управления брокером
	endpoint := controlplane.Endpoint{
		Host:     cfg.BrokerHost,
		Port:     cfg.BrokerPort,
		Protocol: cfg.BrokerProtocol,
		TLSCert:  cfg.BrokerTLSCert,
		Root: controlplane.Credentials{
			Username: cfg.BrokerRootUsername,
			Password: cfg.BrokerRootPassword,
		},
	}
	clientCreds := controlplane.Credentials{
		Username: cfg.BrokerClientUsername,
		Password: cfg.BrokerClientPassword,
	}

	protocolHandler, err := protocol.New(endpoint, cfg.SystemName, logger)
	if err != nil {
		logger.Error("Ошибка создания обработчика протокола", slog.String("error", err.Error()))
		os.Exit(1)
	}
	brokerHandler, err := broker.New(broker.Options{
		Application:   cfg.BrokerApplication,
		Development:   cfg.DevelopmentMode(),
		ManagementURI: cfg.BrokerManagementURI,
		SystemName:    cfg.SystemName,
		Endpoint:      endpoint,
		HTTPClient:    mgmtHTTPClient,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания обработчика брокера", slog.String("error", err.Error()))
		os.Exit(1)
	}
	mgr := manager.New(protocolHandler, brokerHandler, endpoint, clientCreds, logger)

	// 7. Подготовка брокера до приёма регистраций
	initCtx, initCancel := context.WithTimeout(ctx, cfg.BrokerOperationTimeout)
	err = mgr.InitializeBroker(initCtx)
	initCancel()
	if err != nil {
		logger.Error("Ошибка инициализации брокера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Repository и сервисы
	nsRepo := repository.NewNamespaceRepository(pool)
	lookupCache := service.NewLookupCache(cfg.LookupCacheSize, cfg.LookupCacheTTL)

	registrationSvc := service.NewRegistrationService(
		nsRepo, mgr, lookupCache,
		cfg.BrokerOperationTimeout,
		[]string{cfg.BrokerRootUsername, cfg.BrokerClientUsername},
		logger,
	)
	connectionSvc := service.NewConnectionService(
		nsRepo, mgr, lookupCache,
		service.ConnectionOptions{
			SystemName:        cfg.SystemName,
			ClientAPIKey:      cfg.BrokerClientAPIKey,
			DevelopmentAPIKey: cfg.DevelopmentAPIKey,
		},
		logger,
	)

	// 9. Readiness checkers (PostgreSQL + management API брокера)
	pgChecker := database.NewReadinessChecker(pool)
	mgmtChecker := broker.NewManagementClient(cfg.BrokerManagementURI, endpoint.Root, mgmtHTTPClient, logger)
	healthHandler := handlers.NewHealthHandler(pgChecker, mgmtChecker)

	// 10. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, registrationSvc, connectionSvc, logger)

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTIssuer,
		cfg.JWTPrincipalClaim,
		cfg.RoleAdminGroups,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
		slog.String("principal_claim", cfg.JWTPrincipalClaim),
	)

	// 12. topologymetrics — мониторинг зависимостей (PostgreSQL + management API)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthOptions{
		ServiceID:     "intersect-registry",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PGConnURL:     cfg.DatabaseURL(),
		ManagementURL: cfg.BrokerManagementURI,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Registry Service остановлен")
}

// buildHTTPClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func buildHTTPClientWithCA(caPEM []byte) *http.Client {
	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caPEM)

	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}
}
