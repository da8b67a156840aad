// naming.go — правила именования namespace, учёток брокера и Client.
package model

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MessageTypes — типы сообщений, для которых создаются очереди namespace.
var MessageTypes = []string{"request", "response"}

// ClientPrefix — префикс имён эфемерных Client. Зарезервирован.
const ClientPrefix = "CLIENT_"

// secretBytes — энтропия паролей и API-ключей.
const secretBytes = 32

var nameRegex = regexp.MustCompile(`^[a-z0-9][-a-z0-9]{2,62}$`)

var (
	// ErrInvalidName — имя не соответствует шаблону.
	ErrInvalidName = errors.New("имя должно соответствовать шаблону [a-z0-9][-a-z0-9]{2,62}")
	// ErrReservedName — имя конфликтует с зарезервированным префиксом Client.
	ErrReservedName = errors.New("имя конфликтует с зарезервированным префиксом CLIENT_")
)

// ValidateNamespaceName проверяет имя namespace до любых обращений к БД и брокеру.
// Префикс проверяется без учёта регистра: client, client_* и client-* отклоняются.
func ValidateNamespaceName(name string) error {
	lower := strings.ToLower(name)
	if lower == "client" || strings.HasPrefix(lower, "client_") || strings.HasPrefix(lower, "client-") {
		return ErrReservedName
	}
	if !nameRegex.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// BrokerUsername возвращает детерминированное имя учётки брокера для namespace.
func BrokerUsername(name string) string {
	return name + "_user"
}

// QueueName возвращает имя очереди namespace для типа сообщений.
func QueueName(name, messageType string) string {
	return name + "_" + messageType
}

// RoutingKey возвращает routing key очереди namespace: <system>.<name>.<type>.
func RoutingKey(system, name, messageType string) string {
	return system + "." + name + "." + messageType
}

// NewClientName генерирует имя эфемерного Client.
func NewClientName() string {
	return ClientPrefix + uuid.NewString()
}

// GenerateSecret возвращает 32 случайных байта в URL-safe base64 без паддинга.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
