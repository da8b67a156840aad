// Пакет database — пул PostgreSQL для реестра namespace, встроенные
// миграции схемы и проверка готовности для /health/ready.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/intersect-registry/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// connectAttempts — попытки ping при старте: БД может подняться позже сервиса.
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
	// readyTimeout — таймаут запроса проверки готовности
	readyTimeout = 3 * time.Second
)

// Connect создаёт пул и ждёт доступности PostgreSQL.
// Между попытками ping выдерживается connectBackoff; отмена ctx прерывает ожидание.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("разбор DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "intersect-registry"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("создание пула: %w", err)
	}

	log := logger.With(slog.String("component", "database"), slog.String("host", cfg.DBHost))
	if err := waitReady(ctx, pool, log); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("PostgreSQL доступен",
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// waitReady пингует пул до connectAttempts раз.
func waitReady(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if lastErr = pool.Ping(ctx); lastErr == nil {
			return nil
		}
		log.Warn("PostgreSQL пока недоступен",
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ожидание PostgreSQL прервано: %w", ctx.Err())
		case <-time.After(connectBackoff):
		}
	}
	return fmt.Errorf("PostgreSQL недоступен после %d попыток: %w", connectAttempts, lastErr)
}

// migrateURL — DSN для драйвера pgx5 golang-migrate; userinfo экранируется.
func migrateURL(cfg *config.Config) string {
	return (&url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     cfg.DBHost + ":" + strconv.Itoa(cfg.DBPort),
		Path:     "/" + cfg.DBName,
		RawQuery: url.Values{"sslmode": []string{cfg.DBSSLMode}}.Encode(),
	}).String()
}

// Migrate доводит схему реестра до последней встроенной версии и
// возвращает её номер. Отсутствие новых миграций не ошибка, а
// «грязная» версия после прерванной миграции — ошибка.
func Migrate(cfg *config.Config, logger *slog.Logger) (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("источник миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(cfg))
	if err != nil {
		return 0, fmt.Errorf("инициализация migrate: %w", err)
	}
	defer m.Close()

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return 0, fmt.Errorf("применение миграций: %w", upErr)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("версия схемы: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("схема в состоянии dirty на версии %d", version)
	}

	logger.Info("Схема реестра актуальна",
		slog.Uint64("version", uint64(version)),
		slog.Bool("changed", upErr == nil),
	)
	return version, nil
}

// ReadinessChecker проверяет, что пул отвечает и схема реестра на месте.
// Реализует handlers.ReadinessChecker.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности реестра.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady считает namespace: запрос падает и при недоступной БД,
// и при отсутствующей таблице.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	var count int
	if err := c.pool.QueryRow(ctx, `SELECT count(*) FROM namespaces`).Scan(&count); err != nil {
		return "fail", fmt.Sprintf("реестр недоступен: %v", err)
	}
	return "ok", fmt.Sprintf("namespace в реестре: %d", count)
}
