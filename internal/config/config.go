// Пакет config — загрузка и валидация конфигурации Registry Service
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Поддерживаемые протоколы брокера.
const (
	ProtocolAMQP091 = "amqp0.9.1"
	ProtocolMQTT50  = "mqtt5.0"
)

// Поддерживаемые брокеры.
const (
	BrokerRabbitMQ = "rabbitmq"
)

// hierarchyRegex — допустимый формат имени системы и имён namespace.
var hierarchyRegex = regexp.MustCompile(`^[a-z0-9][-a-z0-9]{2,62}$`)

// Config содержит все параметры конфигурации Registry Service.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Применять миграции при старте
	RunMigrations bool

	// --- Система ---

	// Имя системы — первый сегмент всех routing key
	SystemName string
	// API-ключ режима разработки. Непустое значение отключает ACL брокера.
	DevelopmentAPIKey string

	// --- Брокер ---

	BrokerHost string
	BrokerPort int
	// Протокол (amqp0.9.1, mqtt5.0)
	BrokerProtocol string
	// Приложение брокера (rabbitmq)
	BrokerApplication string
	// Путь к PEM-сертификату CA брокера (опционально)
	BrokerTLSCertPath string
	// Содержимое сертификата, загружается из BrokerTLSCertPath
	BrokerTLSCert string
	// Root-учётка брокера. Никогда не выдаётся наружу вне режима разработки.
	BrokerRootUsername string
	BrokerRootPassword string
	// Общая учётка Client
	BrokerClientUsername string
	BrokerClientPassword string
	BrokerClientAPIKey   string
	// URL management API (без userinfo, с trailing slash)
	BrokerManagementURI string
	// Таймаут одной операции с брокером (шаг саги)
	BrokerOperationTimeout time.Duration

	// --- JWT ---

	// Issuer JWT (пустой — не проверяется)
	JWTIssuer string
	// URL JWKS endpoint
	JWTJWKSURL string
	// Claim, из которого берётся идентификатор принципала
	JWTPrincipalClaim string
	// Группы IdP, дающие роль admin
	RoleAdminGroups []string

	// --- Кэш lookup ---

	LookupCacheSize int
	LookupCacheTTL  time.Duration

	// --- Мониторинг зависимостей ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("RS_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("RS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("RS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("RS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("RS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("RS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("RS_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("RS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("RS_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("RS_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("RS_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("RS_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("RS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("RS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.RunMigrations, err = getEnvBool("RS_RUN_MIGRATIONS", true)
	if err != nil {
		return nil, fmt.Errorf("RS_RUN_MIGRATIONS: %w", err)
	}

	// --- Система ---

	if cfg.SystemName, err = getEnvRequired("RS_SYSTEM_NAME"); err != nil {
		return nil, err
	}
	if !hierarchyRegex.MatchString(cfg.SystemName) {
		return nil, fmt.Errorf("RS_SYSTEM_NAME: значение %q не соответствует шаблону %s", cfg.SystemName, hierarchyRegex)
	}

	cfg.DevelopmentAPIKey = os.Getenv("RS_DEVELOPMENT_API_KEY")

	// --- Брокер ---

	if cfg.BrokerHost, err = getEnvRequired("RS_BROKER_HOST"); err != nil {
		return nil, err
	}
	cfg.BrokerPort, err = getEnvInt("RS_BROKER_PORT", 5672)
	if err != nil {
		return nil, fmt.Errorf("RS_BROKER_PORT: %w", err)
	}

	cfg.BrokerProtocol = getEnvDefault("RS_BROKER_PROTOCOL", ProtocolAMQP091)
	if cfg.BrokerProtocol != ProtocolAMQP091 && cfg.BrokerProtocol != ProtocolMQTT50 {
		return nil, fmt.Errorf("RS_BROKER_PROTOCOL: недопустимое значение %q, допустимые: %s, %s",
			cfg.BrokerProtocol, ProtocolAMQP091, ProtocolMQTT50)
	}

	cfg.BrokerApplication = getEnvDefault("RS_BROKER_APPLICATION", BrokerRabbitMQ)
	if cfg.BrokerApplication != BrokerRabbitMQ {
		return nil, fmt.Errorf("RS_BROKER_APPLICATION: недопустимое значение %q, допустимые: %s",
			cfg.BrokerApplication, BrokerRabbitMQ)
	}

	cfg.BrokerTLSCertPath = getEnvDefault("RS_BROKER_TLS_CERT_PATH", "")
	if cfg.BrokerTLSCertPath != "" {
		data, readErr := os.ReadFile(cfg.BrokerTLSCertPath)
		if readErr != nil {
			return nil, fmt.Errorf("RS_BROKER_TLS_CERT_PATH: чтение сертификата: %w", readErr)
		}
		cfg.BrokerTLSCert = string(data)
	}

	if cfg.BrokerRootUsername, err = getEnvRequired("RS_BROKER_ROOT_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.BrokerRootPassword, err = getEnvRequired("RS_BROKER_ROOT_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.BrokerClientUsername, err = getEnvRequired("RS_BROKER_CLIENT_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.BrokerClientPassword, err = getEnvRequired("RS_BROKER_CLIENT_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.BrokerClientAPIKey, err = getEnvRequired("RS_BROKER_CLIENT_API_KEY"); err != nil {
		return nil, err
	}

	mgmt, err := getEnvRequired("RS_BROKER_MANAGEMENT_URI")
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(mgmt)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("RS_BROKER_MANAGEMENT_URI: ожидается http(s) URL, получено %q", mgmt)
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("RS_BROKER_MANAGEMENT_URI: URL не должен содержать userinfo")
	}
	// Добавляем trailing slash
	if !strings.HasSuffix(mgmt, "/") {
		mgmt += "/"
	}
	cfg.BrokerManagementURI = mgmt

	cfg.BrokerOperationTimeout, err = getEnvDuration("RS_BROKER_OPERATION_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RS_BROKER_OPERATION_TIMEOUT: %w", err)
	}

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("RS_JWT_ISSUER", "")
	if cfg.JWTJWKSURL, err = getEnvRequired("RS_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTPrincipalClaim = getEnvDefault("RS_JWT_PRINCIPAL_CLAIM", "preferred_username")
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("RS_ROLE_ADMIN_GROUPS", "intersect-admins"))

	// --- Кэш ---

	cfg.LookupCacheSize, err = getEnvInt("RS_LOOKUP_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("RS_LOOKUP_CACHE_SIZE: %w", err)
	}
	if cfg.LookupCacheSize < 1 {
		return nil, fmt.Errorf("RS_LOOKUP_CACHE_SIZE: значение %d должно быть положительным", cfg.LookupCacheSize)
	}
	cfg.LookupCacheTTL, err = getEnvDuration("RS_LOOKUP_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("RS_LOOKUP_CACHE_TTL: %w", err)
	}

	// --- Мониторинг зависимостей ---

	cfg.DephealthGroup = getEnvDefault("RS_DEPHEALTH_GROUP", "intersect")
	cfg.DephealthCheckInterval, err = getEnvDuration("RS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("RS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DevelopmentMode сообщает, включён ли режим разработки.
func (c *Config) DevelopmentMode() bool {
	return c.DevelopmentAPIKey != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
