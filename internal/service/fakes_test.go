package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/intersect-registry/internal/controlplane"
	"github.com/bigkaa/intersect-registry/internal/domain/model"
	"github.com/bigkaa/intersect-registry/internal/repository"
)

// memRepo — in-memory реализация NamespaceRepository.
// Уникальность имени обеспечивается под мьютексом, как ограничением в БД.
type memRepo struct {
	mu          sync.Mutex
	byID        map[string]*model.Namespace
	creds       map[string][]*model.Credential
	reserves    int
	reserveErr  error
	attachErr   error
	deleteErr   error
	deleteCalls int
	// onReserve вызывается после успешного резервирования
	onReserve func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		byID:  make(map[string]*model.Namespace),
		creds: make(map[string][]*model.Credential),
	}
}

func (r *memRepo) Reserve(_ context.Context, name, owner, apiKey string) (*model.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserves++
	if r.reserveErr != nil {
		return nil, r.reserveErr
	}
	for _, ns := range r.byID {
		if ns.Name == name {
			return nil, fmt.Errorf("%w: namespace '%s' уже существует", repository.ErrConflict, name)
		}
	}
	ns := &model.Namespace{
		ID:             uuid.New().String(),
		Name:           name,
		OwnerPrincipal: owner,
		APIKey:         apiKey,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	r.byID[ns.ID] = ns
	if r.onReserve != nil {
		r.onReserve()
	}
	return ns, nil
}

func (r *memRepo) AttachCredential(_ context.Context, namespaceID, username, password string) (*model.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachErr != nil {
		return nil, r.attachErr
	}
	if _, ok := r.byID[namespaceID]; !ok {
		return nil, repository.ErrNotFound
	}
	c := &model.Credential{
		ID:             uuid.New().String(),
		NamespaceID:    namespaceID,
		BrokerUsername: username,
		BrokerPassword: password,
		CreatedAt:      time.Now(),
	}
	r.creds[namespaceID] = append(r.creds[namespaceID], c)
	return c, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.creds, id)
	return nil
}

func (r *memRepo) FindByNameAndKey(_ context.Context, name, apiKey string) (*model.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ns := range r.byID {
		if ns.Name == name && ns.APIKey == apiKey {
			return ns, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRepo) GetByName(_ context.Context, name string) (*model.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ns := range r.byID {
		if ns.Name == name {
			return ns, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRepo) ListByOwner(_ context.Context, owner *string, limit, offset int) ([]*model.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Namespace
	for _, ns := range r.byID {
		if owner == nil || ns.OwnerPrincipal == *owner {
			out = append(out, ns)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) CredentialsFor(_ context.Context, namespaceID string) ([]*model.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds[namespaceID], nil
}

func (r *memRepo) Count(ctx context.Context, owner *string) (int, error) {
	items, err := r.ListByOwner(ctx, owner, 1<<30, 0)
	return len(items), err
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// fakeControlPlane — фейковый слой управления брокером.
type fakeControlPlane struct {
	mu        sync.Mutex
	added     []string
	removed   []string
	addErr    error
	removeErr error
	// lastCtxErr — состояние контекста, с которым вызван AddNamespace
	lastCtxErr error
}

func (c *fakeControlPlane) AddNamespace(ctx context.Context, name string) (controlplane.Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCtxErr = ctx.Err()
	c.added = append(c.added, name)
	if c.addErr != nil {
		return controlplane.Credentials{}, c.addErr
	}
	return controlplane.Credentials{Username: model.BrokerUsername(name), Password: "broker-secret"}, nil
}

func (c *fakeControlPlane) RemoveNamespace(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, name)
	return c.removeErr
}

func (c *fakeControlPlane) addCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.added)
}

var errDBDown = errors.New("соединение с БД потеряно")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
