// registration.go — регистрация и удаление namespace.
// Регистрация — сага из трёх шагов: резервирование имени в БД,
// создание очередей и учётки в брокере, сохранение учётки в БД.
// Любой отказ после резервирования приводит к компенсации либо
// к явно залогированному состоянию PartiallyProvisioned.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/intersect-registry/internal/controlplane"
	"github.com/bigkaa/intersect-registry/internal/domain/model"
	"github.com/bigkaa/intersect-registry/internal/domain/rbac"
	"github.com/bigkaa/intersect-registry/internal/repository"
)

// provisioningState — состояние саги регистрации.
type provisioningState string

const (
	stateUnreserved           provisioningState = "unreserved"
	stateReserved             provisioningState = "reserved"
	stateBrokerProvisioned    provisioningState = "broker_provisioned"
	statePersisted            provisioningState = "persisted"
	stateRolledBack           provisioningState = "rolled_back"
	statePartiallyProvisioned provisioningState = "partially_provisioned"
)

// Исходы регистрации для метрики rs_registrations_total.
const (
	outcomePersisted            = "persisted"
	outcomeInvalid              = "invalid"
	outcomeNameTaken            = "name_taken"
	outcomeRolledBack           = "rolled_back"
	outcomeCompensationFailed   = "compensation_failed"
	outcomeBrokerOrphaned       = "broker_orphaned"
	outcomePartiallyProvisioned = "partially_provisioned"
	outcomeNotImplemented       = "not_implemented"
	outcomeReserveFailed        = "reserve_failed"
)

var (
	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rs_registrations_total",
		Help: "Количество попыток регистрации namespace по исходу.",
	}, []string{"outcome"})

	deregistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rs_deregistrations_total",
		Help: "Количество удалений namespace по исходу.",
	}, []string{"outcome"})

	registrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rs_registration_duration_seconds",
		Help:    "Длительность саги регистрации namespace.",
		Buckets: prometheus.DefBuckets,
	})
)

// ControlPlane — операции слоя управления брокером, нужные регистрации.
type ControlPlane interface {
	AddNamespace(ctx context.Context, name string) (controlplane.Credentials, error)
	RemoveNamespace(ctx context.Context, name string) error
}

// Registration — результат успешной регистрации.
// Namespace.APIKey выдаётся владельцу один раз.
type Registration struct {
	Namespace  *model.Namespace
	Credential *model.Credential
}

// RegistrationService управляет жизненным циклом namespace.
type RegistrationService struct {
	repo        repository.NamespaceRepository
	cp          ControlPlane
	cache       *LookupCache
	stepTimeout time.Duration
	// reservedUsers — учётки брокера, которые namespace не может занять
	reservedUsers map[string]struct{}
	logger        *slog.Logger
}

// NewRegistrationService создаёт сервис регистрации.
// cache может быть nil. stepTimeout ограничивает каждый шаг саги.
// reservedUsers — служебные учётки брокера (root, Client): namespace,
// чья учётка совпала бы с одной из них, отклоняется как зарезервированный.
func NewRegistrationService(
	repo repository.NamespaceRepository,
	cp ControlPlane,
	cache *LookupCache,
	stepTimeout time.Duration,
	reservedUsers []string,
	logger *slog.Logger,
) *RegistrationService {
	reserved := make(map[string]struct{}, len(reservedUsers))
	for _, u := range reservedUsers {
		if u != "" {
			reserved[u] = struct{}{}
		}
	}
	return &RegistrationService{
		repo:          repo,
		cp:            cp,
		cache:         cache,
		stepTimeout:   stepTimeout,
		reservedUsers: reserved,
		logger:        logger.With(slog.String("component", "registration")),
	}
}

// Register регистрирует namespace name для принципала owner.
//
// Ошибки: ErrValidation, ErrReservedName, ErrNameAlreadyTaken,
// ErrNotImplemented, ErrServerFault.
func (s *RegistrationService) Register(ctx context.Context, name, owner string) (*Registration, error) {
	if err := s.validateName(name); err != nil {
		registrationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, err
	}
	if owner == "" {
		registrationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, fmt.Errorf("%w: принципал владельца не задан", ErrValidation)
	}

	apiKey, err := model.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: генерация API-ключа: %w", ErrServerFault, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		registrationDuration.Observe(time.Since(start).Seconds())
	}()

	// После резервирования сага доводится до конечного состояния
	// независимо от отмены запроса.
	sagaCtx := context.WithoutCancel(ctx)
	log := s.logger.With(slog.String("namespace", name), slog.String("owner", owner))

	var ns *model.Namespace
	err = s.step(sagaCtx, func(stepCtx context.Context) error {
		var reserveErr error
		ns, reserveErr = s.repo.Reserve(stepCtx, name, owner, apiKey)
		return reserveErr
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			registrationsTotal.WithLabelValues(outcomeNameTaken).Inc()
			return nil, fmt.Errorf("%w: %s", ErrNameAlreadyTaken, name)
		}
		registrationsTotal.WithLabelValues(outcomeReserveFailed).Inc()
		log.Error("Ошибка резервирования namespace", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: резервирование namespace", ErrServerFault)
	}
	s.transition(log, stateUnreserved, stateReserved)

	var creds controlplane.Credentials
	err = s.step(sagaCtx, func(stepCtx context.Context) error {
		var addErr error
		creds, addErr = s.cp.AddNamespace(stepCtx, name)
		return addErr
	})
	if err != nil {
		log.Warn("Ошибка создания ресурсов брокера, откат регистрации",
			slog.String("error", err.Error()),
		)
		s.rollback(sagaCtx, log, ns)
		s.transition(log, stateReserved, stateRolledBack)

		if errors.Is(err, controlplane.ErrNotImplemented) {
			registrationsTotal.WithLabelValues(outcomeNotImplemented).Inc()
			return nil, fmt.Errorf("%w: регистрация namespace", ErrNotImplemented)
		}
		return nil, fmt.Errorf("%w: создание ресурсов брокера", ErrServerFault)
	}
	s.transition(log, stateReserved, stateBrokerProvisioned)

	var cred *model.Credential
	err = s.step(sagaCtx, func(stepCtx context.Context) error {
		var attachErr error
		cred, attachErr = s.repo.AttachCredential(stepCtx, ns.ID, creds.Username, creds.Password)
		return attachErr
	})
	if err != nil {
		s.transition(log, stateBrokerProvisioned, statePartiallyProvisioned)
		registrationsTotal.WithLabelValues(outcomePartiallyProvisioned).Inc()
		log.Error("Namespace частично создан: учётка брокера существует, но не сохранена",
			slog.Bool("alert", true),
			slog.String("namespace_id", ns.ID),
			slog.String("broker_username", creds.Username),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrServerFault, ErrPartiallyProvisioned)
	}
	s.transition(log, stateBrokerProvisioned, statePersisted)
	registrationsTotal.WithLabelValues(outcomePersisted).Inc()

	log.Info("Namespace зарегистрирован", slog.String("namespace_id", ns.ID))
	return &Registration{Namespace: ns, Credential: cred}, nil
}

// rollback удаляет ресурсы брокера и запись namespace.
// Брокер очищается до удаления записи: пока запись существует,
// имя не может быть занято повторно.
func (s *RegistrationService) rollback(ctx context.Context, log *slog.Logger, ns *model.Namespace) {
	err := s.step(ctx, func(stepCtx context.Context) error {
		return s.cp.RemoveNamespace(stepCtx, ns.Name)
	})
	brokerOrphaned := err != nil && !errors.Is(err, controlplane.ErrNotImplemented)
	if brokerOrphaned {
		log.Error("Откат не очистил ресурсы брокера: очереди или учётка остались без записи",
			slog.Bool("alert", true),
			slog.String("broker_username", model.BrokerUsername(ns.Name)),
			slog.String("error", err.Error()),
		)
	}

	err = s.step(ctx, func(stepCtx context.Context) error {
		return s.repo.Delete(stepCtx, ns.ID)
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		registrationsTotal.WithLabelValues(outcomeCompensationFailed).Inc()
		log.Error("Компенсация не удалась: запись namespace осталась в реестре",
			slog.Bool("alert", true),
			slog.String("namespace_id", ns.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if brokerOrphaned {
		registrationsTotal.WithLabelValues(outcomeBrokerOrphaned).Inc()
		return
	}
	registrationsTotal.WithLabelValues(outcomeRolledBack).Inc()
}

// Deregister удаляет namespace. Разрешено владельцу или администратору
// (rbac.CanManageNamespace).
// Сначала удаляются ресурсы брокера, затем запись: при сбое брокера
// запись остаётся и удаление можно повторить.
func (s *RegistrationService) Deregister(ctx context.Context, name, principal, role string) error {
	ns, err := s.repo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: namespace '%s'", ErrNotFound, name)
		}
		return fmt.Errorf("%w: поиск namespace: %w", ErrServerFault, err)
	}
	if !rbac.CanManageNamespace(role, principal, ns.OwnerPrincipal) {
		deregistrationsTotal.WithLabelValues("forbidden").Inc()
		return fmt.Errorf("%w: namespace '%s' принадлежит другому принципалу", ErrForbidden, name)
	}

	sagaCtx := context.WithoutCancel(ctx)
	log := s.logger.With(slog.String("namespace", name), slog.String("principal", principal))

	err = s.step(sagaCtx, func(stepCtx context.Context) error {
		return s.cp.RemoveNamespace(stepCtx, name)
	})
	if err != nil {
		if errors.Is(err, controlplane.ErrNotImplemented) {
			deregistrationsTotal.WithLabelValues(outcomeNotImplemented).Inc()
			return fmt.Errorf("%w: удаление namespace", ErrNotImplemented)
		}
		deregistrationsTotal.WithLabelValues("broker_failed").Inc()
		log.Error("Ошибка удаления ресурсов брокера", slog.String("error", err.Error()))
		return fmt.Errorf("%w: удаление ресурсов брокера", ErrServerFault)
	}

	err = s.step(sagaCtx, func(stepCtx context.Context) error {
		return s.repo.Delete(stepCtx, ns.ID)
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		deregistrationsTotal.WithLabelValues("record_failed").Inc()
		log.Error("Ресурсы брокера удалены, но запись namespace осталась",
			slog.Bool("alert", true),
			slog.String("namespace_id", ns.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: удаление записи namespace", ErrServerFault)
	}

	if s.cache != nil {
		s.cache.Invalidate(name)
	}
	deregistrationsTotal.WithLabelValues("deleted").Inc()
	log.Info("Namespace удалён", slog.Bool("by_admin", ns.OwnerPrincipal != principal))
	return nil
}

// Get возвращает namespace владельцу или администратору.
// Чужой namespace для оператора неотличим от несуществующего.
func (s *RegistrationService) Get(ctx context.Context, name, principal, role string) (*model.Namespace, error) {
	ns, err := s.repo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: namespace '%s'", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: поиск namespace: %w", ErrServerFault, err)
	}
	if !rbac.CanManageNamespace(role, principal, ns.OwnerPrincipal) {
		return nil, fmt.Errorf("%w: namespace '%s'", ErrNotFound, name)
	}
	return ns, nil
}

// List возвращает namespace владельца (owner == nil — все) и общее количество.
func (s *RegistrationService) List(ctx context.Context, owner *string, limit, offset int) ([]*model.Namespace, int, error) {
	items, err := s.repo.ListByOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: список namespace: %w", ErrServerFault, err)
	}
	total, err := s.repo.Count(ctx, owner)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: подсчёт namespace: %w", ErrServerFault, err)
	}
	return items, total, nil
}

// step выполняет один шаг саги с таймаутом.
func (s *RegistrationService) step(ctx context.Context, fn func(context.Context) error) error {
	if s.stepTimeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	return fn(stepCtx)
}

func (s *RegistrationService) transition(log *slog.Logger, from, to provisioningState) {
	log.Debug("Переход состояния регистрации",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

// validateName переводит ошибки проверки имени в ошибки сервиса.
// Кроме шаблона и префикса Client проверяется, что учётка namespace
// не совпадает со служебной учёткой брокера.
func (s *RegistrationService) validateName(name string) error {
	err := model.ValidateNamespaceName(name)
	switch {
	case err == nil:
		if _, taken := s.reservedUsers[model.BrokerUsername(name)]; taken {
			return fmt.Errorf("%w: учётка %s занята служебной учёткой брокера",
				ErrReservedName, model.BrokerUsername(name))
		}
		return nil
	case errors.Is(err, model.ErrReservedName):
		return fmt.Errorf("%w: %s", ErrReservedName, err.Error())
	default:
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
}
