package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/intersect-registry/internal/controlplane"
	"github.com/bigkaa/intersect-registry/internal/domain/model"
	"github.com/bigkaa/intersect-registry/internal/domain/rbac"
)

func newTestRegistration() (*RegistrationService, *memRepo, *fakeControlPlane, *LookupCache) {
	repo := newMemRepo()
	cp := &fakeControlPlane{}
	cache := NewLookupCache(16, time.Minute)
	svc := NewRegistrationService(repo, cp, cache, time.Second,
		[]string{"intersect_user", "admin"}, testLogger())
	return svc, repo, cp, cache
}

func TestRegister_Success(t *testing.T) {
	svc, repo, cp, _ := newTestRegistration()

	reg, err := svc.Register(context.Background(), "weather-sim", "alice")
	require.NoError(t, err)

	assert.Equal(t, "weather-sim", reg.Namespace.Name)
	assert.Equal(t, "alice", reg.Namespace.OwnerPrincipal)
	assert.NotEmpty(t, reg.Namespace.APIKey)
	assert.Equal(t, "weather-sim_user", reg.Credential.BrokerUsername)
	assert.Equal(t, reg.Namespace.ID, reg.Credential.NamespaceID)
	assert.Equal(t, []string{"weather-sim"}, cp.added)

	creds, err := repo.CredentialsFor(context.Background(), reg.Namespace.ID)
	require.NoError(t, err)
	assert.Len(t, creds, 1)
}

func TestRegister_ValidationBeforeIO(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"слишком короткое", "ab", ErrValidation},
		{"заглавные буквы", "Weather", ErrValidation},
		{"начинается с дефиса", "-weather", ErrValidation},
		{"подчёркивание", "weather_sim", ErrValidation},
		{"точка", "weather.sim", ErrValidation},
		{"слишком длинное", strings.Repeat("a", 64), ErrValidation},
		{"префикс client-", "client-app", ErrReservedName},
		{"имя client", "client", ErrReservedName},
		{"CLIENT_ в верхнем регистре", "CLIENT_x", ErrReservedName},
		{"учётка совпадает с учёткой Client", "intersect", ErrReservedName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, cp, _ := newTestRegistration()

			_, err := svc.Register(context.Background(), tt.input, "alice")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, repo.reserves, "резервирование не должно вызываться")
			assert.Zero(t, cp.addCalls(), "брокер не должен вызываться")
		})
	}
}

func TestRegister_EmptyOwner(t *testing.T) {
	svc, repo, _, _ := newTestRegistration()

	_, err := svc.Register(context.Background(), "weather-sim", "")
	require.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, repo.reserves)
}

func TestRegister_NameTaken(t *testing.T) {
	svc, _, cp, _ := newTestRegistration()

	_, err := svc.Register(context.Background(), "weather-sim", "alice")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "weather-sim", "bob")
	require.ErrorIs(t, err, ErrNameAlreadyTaken)
	assert.Equal(t, 1, cp.addCalls(), "ресурсы брокера создаются только для первого")
}

func TestRegister_ConcurrentSameName(t *testing.T) {
	svc, repo, cp, _ := newTestRegistration()

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		taken     int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(context.Background(), "weather-sim", "alice")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrNameAlreadyTaken):
				taken++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, taken)
	assert.Equal(t, 1, repo.count())
	assert.Equal(t, 1, cp.addCalls())
}

func TestRegister_BrokerFailureRollsBack(t *testing.T) {
	svc, repo, cp, _ := newTestRegistration()
	cp.addErr = controlplane.ErrBrokerUnavailable

	_, err := svc.Register(context.Background(), "weather-sim", "alice")
	require.ErrorIs(t, err, ErrServerFault)
	assert.False(t, errors.Is(err, controlplane.ErrBrokerUnavailable), "детали брокера не выходят наружу")

	assert.Zero(t, repo.count(), "запись должна быть удалена компенсацией")
	assert.Equal(t, []string{"weather-sim"}, cp.removed, "ресурсы брокера очищаются")

	// После отката имя снова свободно
	cp.addErr = nil
	_, err = svc.Register(context.Background(), "weather-sim", "alice")
	require.NoError(t, err)
}

func TestRegister_NotImplemented(t *testing.T) {
	svc, repo, cp, _ := newTestRegistration()
	cp.addErr = controlplane.ErrNotImplemented
	cp.removeErr = controlplane.ErrNotImplemented

	_, err := svc.Register(context.Background(), "weather-sim", "alice")
	require.ErrorIs(t, err, ErrNotImplemented)
	assert.Zero(t, repo.count())
}

func TestRegister_CompensationFailure(t *testing.T) {
	svc, repo, cp, _ := newTestRegistration()
	cp.addErr = controlplane.ErrBrokerRejected
	repo.deleteErr = errDBDown

	_, err := svc.Register(context.Background(), "weather-sim", "alice")
	require.ErrorIs(t, err, ErrServerFault)
	assert.Equal(t, 1, repo.deleteCalls)
	assert.Equal(t, 1, repo.count(), "запись остаётся при неудачной компенсации")
}

func TestRegister_BrokerCleanupFailure(t *testing.T) {
	svc, repo, cp, _ := newTestRegistration()
	cp.addErr = controlplane.ErrBrokerRejected
	cp.removeErr = controlplane.ErrBrokerUnavailable

	orphanedBefore := testutil.ToFloat64(registrationsTotal.WithLabelValues(outcomeBrokerOrphaned))
	rolledBackBefore := testutil.ToFloat64(registrationsTotal.WithLabelValues(outcomeRolledBack))

	_, err := svc.Register(context.Background(), "weather-sim", "alice")
	require.ErrorIs(t, err, ErrServerFault)

	assert.Equal(t, []string{"weather-sim"}, cp.removed, "очистка брокера выполнялась")
	assert.Zero(t, repo.count(), "запись удаляется")
	assert.Equal(t, orphanedBefore+1,
		testutil.ToFloat64(registrationsTotal.WithLabelValues(outcomeBrokerOrphaned)))
	assert.Equal(t, rolledBackBefore,
		testutil.ToFloat64(registrationsTotal.WithLabelValues(outcomeRolledBack)),
		"неполный откат не считается чистым")
}

func TestRegister_ReservedBrokerUsername(t *testing.T) {
	repo := newMemRepo()
	cp := &fakeControlPlane{}
	svc := NewRegistrationService(repo, cp, nil, time.Second,
		[]string{"shared-client_user", "", "guest"}, testLogger())

	_, err := svc.Register(context.Background(), "shared-client", "alice")
	require.ErrorIs(t, err, ErrReservedName)
	assert.Zero(t, repo.reserves)
	assert.Zero(t, cp.addCalls())

	// Пустые и несовпадающие учётки не мешают обычным именам
	_, err = svc.Register(context.Background(), "guest", "alice")
	require.NoError(t, err)
}

func TestRegister_PartiallyProvisioned(t *testing.T) {
	svc, repo, cp, _ := newTestRegistration()
	repo.attachErr = errDBDown

	_, err := svc.Register(context.Background(), "weather-sim", "alice")
	require.ErrorIs(t, err, ErrServerFault)
	require.ErrorIs(t, err, ErrPartiallyProvisioned)

	assert.Equal(t, 1, repo.count(), "запись namespace остаётся")
	assert.Empty(t, cp.removed, "ресурсы брокера не удаляются")
}

func TestRegister_ReserveFailure(t *testing.T) {
	svc, repo, cp, _ := newTestRegistration()
	repo.reserveErr = errDBDown

	_, err := svc.Register(context.Background(), "weather-sim", "alice")
	require.ErrorIs(t, err, ErrServerFault)
	assert.Zero(t, cp.addCalls())
}

func TestRegister_CancelledBeforeReserve(t *testing.T) {
	svc, repo, _, _ := newTestRegistration()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Register(ctx, "weather-sim", "alice")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, repo.reserves)
}

func TestRegister_CancelAfterReserveCompletes(t *testing.T) {
	svc, repo, cp, _ := newTestRegistration()
	ctx, cancel := context.WithCancel(context.Background())
	repo.onReserve = cancel

	reg, err := svc.Register(ctx, "weather-sim", "alice")
	require.NoError(t, err, "сага доводится до конца после резервирования")
	assert.NoError(t, cp.lastCtxErr, "шаг брокера получает неотменённый контекст")

	creds, err := repo.CredentialsFor(context.Background(), reg.Namespace.ID)
	require.NoError(t, err)
	assert.Len(t, creds, 1)
}

func TestDeregister(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		role      string
		wantErr   error
	}{
		{"владелец", "alice", rbac.RoleOperator, nil},
		{"администратор", "root-admin", rbac.RoleAdmin, nil},
		{"чужой принципал", "mallory", rbac.RoleOperator, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, cp, cache := newTestRegistration()
			_, err := svc.Register(context.Background(), "weather-sim", "alice")
			require.NoError(t, err)
			cache.Set("weather-sim", "key", &model.ConnectionConfig{})

			err = svc.Deregister(context.Background(), "weather-sim", tt.principal, tt.role)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 1, repo.count())
				assert.Empty(t, cp.removed)
				return
			}
			require.NoError(t, err)
			assert.Zero(t, repo.count())
			assert.Equal(t, []string{"weather-sim"}, cp.removed)
			assert.Zero(t, cache.Len(), "кэш инвалидирован")
		})
	}
}

func TestDeregister_NotFound(t *testing.T) {
	svc, _, _, _ := newTestRegistration()

	err := svc.Deregister(context.Background(), "missing", "alice", rbac.RoleOperator)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeregister_BrokerFailureKeepsRecord(t *testing.T) {
	svc, repo, cp, _ := newTestRegistration()
	_, err := svc.Register(context.Background(), "weather-sim", "alice")
	require.NoError(t, err)

	cp.removeErr = controlplane.ErrBrokerUnavailable
	err = svc.Deregister(context.Background(), "weather-sim", "alice", rbac.RoleOperator)
	require.ErrorIs(t, err, ErrServerFault)
	assert.Equal(t, 1, repo.count(), "запись остаётся для повторного удаления")

	cp.removeErr = nil
	require.NoError(t, svc.Deregister(context.Background(), "weather-sim", "alice", rbac.RoleOperator))
	assert.Zero(t, repo.count())
}

func TestList(t *testing.T) {
	svc, _, _, _ := newTestRegistration()
	for _, n := range []string{"ccc-ns", "aaa-ns", "bbb-ns"} {
		_, err := svc.Register(context.Background(), n, "alice")
		require.NoError(t, err)
	}
	_, err := svc.Register(context.Background(), "zzz-ns", "bob")
	require.NoError(t, err)

	owner := "alice"
	items, total, err := svc.List(context.Background(), &owner, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, "aaa-ns", items[0].Name)
	assert.Equal(t, "bbb-ns", items[1].Name)

	_, total, err = svc.List(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestGet(t *testing.T) {
	svc, _, _, _ := newTestRegistration()
	reg, err := svc.Register(context.Background(), "weather-sim", "alice")
	require.NoError(t, err)

	ns, err := svc.Get(context.Background(), "weather-sim", "alice", rbac.RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, reg.Namespace.APIKey, ns.APIKey)

	_, err = svc.Get(context.Background(), "weather-sim", "root", rbac.RoleAdmin)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "weather-sim", "mallory", rbac.RoleOperator)
	require.ErrorIs(t, err, ErrNotFound, "чужой namespace скрыт")

	_, err = svc.Get(context.Background(), "missing", "alice", rbac.RoleOperator)
	require.ErrorIs(t, err, ErrNotFound)
}
