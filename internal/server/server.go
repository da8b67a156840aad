// Пакет server — HTTP-сервер Registry Service с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/intersect-registry/internal/api/handlers"
	"github.com/bigkaa/intersect-registry/internal/api/middleware"
	"github.com/bigkaa/intersect-registry/internal/config"
	"github.com/bigkaa/intersect-registry/internal/domain/rbac"
)

// Server — HTTP-сервер Registry Service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (может быть nil для тестирования без auth).
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, jwtAuth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, handler, jwtAuth),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout(cfg.BrokerOperationTimeout),
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// sagaSteps — максимум шагов регистрации с ограничением по времени:
// резервирование, брокер, откат в брокере, удаление записи.
const sagaSteps = 4

// writeTimeout покрывает худший случай саги регистрации, чтобы ответ
// с единственной выдачей API-ключа не обрывался по таймауту записи.
func writeTimeout(stepTimeout time.Duration) time.Duration {
	return max(60*time.Second, sagaSteps*stepTimeout+10*time.Second)
}

// NewRouter собирает маршруты Registry Service.
//
// Публичные: health, metrics и endpoints SDK (авторизация API-ключом).
// Управление namespace — только с JWT оператора, список всех
// namespace — только с ролью admin.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)

	// Health и metrics проверяются Kubernetes напрямую
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", h.Ping)
		r.Get("/service_config", h.ServiceConfig)
		r.Get("/client_config", h.ClientConfig)

		r.Group(func(r chi.Router) {
			if jwtAuth != nil {
				r.Use(jwtAuth.Middleware())
			}
			r.Route("/namespaces", func(r chi.Router) {
				r.Post("/", h.RegisterNamespace)
				r.Get("/", h.ListNamespaces)
				r.Get("/{name}", h.GetNamespace)
				r.Delete("/{name}", h.DeregisterNamespace)
			})
			r.With(middleware.RequireRole(rbac.RoleAdmin)).
				Get("/admin/namespaces", h.ListAllNamespaces)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown. Незавершённые регистрации доводятся до конца
	// в своём контексте, отмена запроса их не прерывает.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
