// errors.go — ошибки бизнес-логики сервисного слоя.
// Ошибки брокера (controlplane.ErrBrokerUnavailable, ErrBrokerRejected)
// наружу не выходят: вызывающий получает ErrServerFault.
package service

import (
	"errors"

	"github.com/bigkaa/intersect-registry/internal/controlplane"
)

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrReservedName — имя конфликтует с зарезервированным префиксом Client.
	ErrReservedName = errors.New("имя зарезервировано")
	// ErrNameAlreadyTaken — namespace с таким именем уже существует.
	ErrNameAlreadyTaken = errors.New("имя namespace занято")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — неверное имя или ключ (не различаются), либо нет прав.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrServerFault — внутренняя ошибка без подробностей для вызывающего.
	ErrServerFault = errors.New("внутренняя ошибка сервера")
	// ErrPartiallyProvisioned — ресурсы брокера созданы, но учётка не сохранена.
	// Требует вмешательства оператора; вызывающий видит ErrServerFault.
	ErrPartiallyProvisioned = errors.New("namespace частично создан")
	// ErrNotImplemented — комбинация протокола и брокера не поддерживается.
	ErrNotImplemented = controlplane.ErrNotImplemented
)
