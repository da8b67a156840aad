// amqp.go — обработчик AMQP 0-9-1 (RabbitMQ topic exchange).
// Топология: durable topic exchange intersect-messages, для каждого
// namespace — durable очереди <name>_<type>, привязанные с ключом
// <system>.<name>.<type>. Соединения короткоживущие, по одному на операцию.
package protocol

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/intersect-registry/internal/controlplane"
	"github.com/bigkaa/intersect-registry/internal/domain/model"
)

// Channel — подмножество *amqp.Channel, используемое обработчиком.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	Close() error
}

// Connection — подмножество *amqp.Connection.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Dialer открывает AMQP-соединение. Подменяется в тестах.
type Dialer func(ctx context.Context, uri string, tlsCfg *tls.Config) (Connection, error)

// AMQPOption — опция обработчика AMQP.
type AMQPOption func(*AMQPHandler)

// WithDialer подменяет способ открытия соединения.
func WithDialer(d Dialer) AMQPOption {
	return func(h *AMQPHandler) {
		h.dial = d
	}
}

// AMQPHandler — обработчик протокола AMQP 0-9-1.
type AMQPHandler struct {
	uri        string
	tlsCfg     *tls.Config
	systemName string
	dial       Dialer
	logger     *slog.Logger
}

// NewAMQP создаёт обработчик AMQP 0-9-1. Подключается root-учёткой.
func NewAMQP(endpoint controlplane.Endpoint, systemName string, logger *slog.Logger, opts ...AMQPOption) *AMQPHandler {
	h := &AMQPHandler{
		uri:        endpoint.URI(endpoint.Root),
		tlsCfg:     tlsConfig(endpoint.TLSCert),
		systemName: systemName,
		dial:       dialAMQP,
		logger:     logger.With(slog.String("component", "amqp_protocol")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// tlsConfig строит TLS-конфигурацию с CA брокера (nil — без TLS).
func tlsConfig(caPEM string) *tls.Config {
	if caPEM == "" {
		return nil
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	pool.AppendCertsFromPEM([]byte(caPEM))
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
}

// amqpConnection адаптирует *amqp.Connection к интерфейсу Connection.
type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// dialAMQP открывает соединение с учётом дедлайна ctx.
func dialAMQP(ctx context.Context, uri string, tlsCfg *tls.Config) (Connection, error) {
	conn, err := amqp.DialConfig(uri, amqp.Config{
		TLSClientConfig: tlsCfg,
		Dial: func(network, addr string) (net.Conn, error) {
			var d net.Dialer
			c, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Дедлайн handshake; amqp091 снимает его после открытия соединения
			if deadline, ok := ctx.Deadline(); ok {
				_ = c.SetDeadline(deadline)
			}
			return c, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// withChannel открывает соединение и канал, выполняет fn и закрывает всё.
// Отмена ctx закрывает соединение и прерывает блокирующий RPC.
func (h *AMQPHandler) withChannel(ctx context.Context, fn func(ch Channel) error) error {
	conn, err := h.dial(ctx, h.uri, h.tlsCfg)
	if err != nil {
		return fmt.Errorf("%w: подключение по AMQP: %v", controlplane.ErrBrokerUnavailable, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	ch, err := conn.Channel()
	if err != nil {
		return classify("открытие канала", err)
	}
	defer ch.Close()

	return fn(ch)
}

// classify переводит ошибку AMQP в ошибку controlplane.
// Исключения канала (406, 403, 404 и т.п.) — отказ брокера,
// остальное (обрыв соединения, закрытый канал) — недоступность.
func classify(op string, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.AccessRefused, amqp.NotFound, amqp.ResourceLocked,
			amqp.PreconditionFailed, amqp.NotAllowed, amqp.NotImplemented:
			return fmt.Errorf("%w: %s: %d %s", controlplane.ErrBrokerRejected, op, amqpErr.Code, amqpErr.Reason)
		}
	}
	return fmt.Errorf("%w: %s: %v", controlplane.ErrBrokerUnavailable, op, err)
}

// InitializeBroker объявляет durable topic exchange. Повторное объявление
// с теми же параметрами — no-op, с другими — PRECONDITION_FAILED.
func (h *AMQPHandler) InitializeBroker(ctx context.Context) error {
	err := h.withChannel(ctx, func(ch Channel) error {
		if err := ch.ExchangeDeclare(controlplane.ExchangeName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return classify("объявление exchange "+controlplane.ExchangeName, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.logger.Info("Exchange объявлен", slog.String("exchange", controlplane.ExchangeName))
	return nil
}

// InitializeNamespace объявляет очереди namespace. Типы сообщений
// обрабатываются параллельно, у каждого своё соединение; внутри
// типа declare и bind выполняются последовательно на одном канале.
func (h *AMQPHandler) InitializeNamespace(ctx context.Context, name string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(model.MessageTypes))

	for _, messageType := range model.MessageTypes {
		g.Go(func() error {
			return h.declareQueue(gctx, name, messageType)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	h.logger.Info("Очереди namespace объявлены", slog.String("namespace", name))
	return nil
}

func (h *AMQPHandler) declareQueue(ctx context.Context, name, messageType string) error {
	queue := model.QueueName(name, messageType)
	key := model.RoutingKey(h.systemName, name, messageType)

	return h.withChannel(ctx, func(ch Channel) error {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return classify("объявление очереди "+queue, err)
		}
		if err := ch.QueueBind(queue, key, controlplane.ExchangeName, false, nil); err != nil {
			return classify("привязка очереди "+queue, err)
		}

		h.logger.Debug("Очередь привязана",
			slog.String("queue", queue),
			slog.String("routing_key", key),
		)
		return nil
	})
}

// RemoveNamespace удаляет очереди namespace. Отсутствующая очередь не ошибка.
// После исключения канал закрывается брокером, поэтому на каждую
// очередь открывается свой канал.
func (h *AMQPHandler) RemoveNamespace(ctx context.Context, name string) error {
	var errs []error
	for _, messageType := range model.MessageTypes {
		queue := model.QueueName(name, messageType)
		err := h.withChannel(ctx, func(ch Channel) error {
			if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
				var amqpErr *amqp.Error
				if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
					return nil
				}
				return classify("удаление очереди "+queue, err)
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	h.logger.Info("Очереди namespace удалены", slog.String("namespace", name))
	return nil
}
