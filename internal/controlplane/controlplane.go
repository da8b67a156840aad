// Пакет controlplane — общие типы и ошибки слоя управления брокером.
// Протокольные обработчики (топология: exchange, очереди) живут в
// controlplane/protocol, брокерные (учётки и права) — в controlplane/broker.
package controlplane

import (
	"errors"
	"net"
	"net/url"
	"strconv"

	"github.com/bigkaa/intersect-registry/internal/config"
)

// ExchangeName — общий topic exchange всех namespace. Никогда не удаляется.
const ExchangeName = "intersect-messages"

// Ошибки слоя управления брокером.
var (
	// ErrBrokerUnavailable — брокер недоступен (транспорт, 5xx). Временная ошибка.
	ErrBrokerUnavailable = errors.New("брокер недоступен")
	// ErrBrokerRejected — брокер отклонил операцию (4xx, несовместимая топология).
	ErrBrokerRejected = errors.New("брокер отклонил операцию")
	// ErrNotImplemented — комбинация протокола и брокера не поддерживается.
	ErrNotImplemented = errors.New("не реализовано")
)

// Credentials — пара логин/пароль брокера.
type Credentials struct {
	Username string
	Password string
}

// Endpoint — параметры подключения к брокеру, неизменные на время жизни процесса.
type Endpoint struct {
	Host     string
	Port     int
	Protocol string
	// TLSCert — PEM-сертификат CA. Непустое значение включает TLS (amqps/mqtts).
	TLSCert string
	// Root — административная учётка брокера.
	Root Credentials
}

// UseTLS сообщает, нужно ли подключаться по TLS.
func (e Endpoint) UseTLS() bool {
	return e.TLSCert != ""
}

// URI собирает URI брокера для указанной учётки:
// amqp(s)://user:pass@host:port/%2F или mqtt(s)://user:pass@host:port/.
// Userinfo экранируется.
func (e Endpoint) URI(creds Credentials) string {
	scheme, rawPath := "amqp", "/%2F"
	if e.Protocol == config.ProtocolMQTT50 {
		scheme, rawPath = "mqtt", "/"
	}
	if e.UseTLS() {
		scheme += "s"
	}

	path, _ := url.PathUnescape(rawPath)
	u := url.URL{
		Scheme:  scheme,
		User:    url.UserPassword(creds.Username, creds.Password),
		Host:    net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:    path,
		RawPath: rawPath,
	}
	return u.String()
}
