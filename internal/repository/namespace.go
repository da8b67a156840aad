package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/intersect-registry/internal/domain/model"
)

// NamespaceRepository — интерфейс доступа к таблицам namespaces и broker_credentials.
type NamespaceRepository interface {
	// Reserve создаёт запись namespace. Дубликат имени — ErrConflict.
	Reserve(ctx context.Context, name, owner, apiKey string) (*model.Namespace, error)
	// AttachCredential сохраняет учётку брокера для namespace.
	AttachCredential(ctx context.Context, namespaceID, username, password string) (*model.Credential, error)
	// Delete удаляет namespace вместе с учётками (ON DELETE CASCADE).
	Delete(ctx context.Context, id string) error
	// FindByNameAndKey возвращает namespace, если совпали и имя, и API-ключ.
	FindByNameAndKey(ctx context.Context, name, apiKey string) (*model.Namespace, error)
	// GetByName возвращает namespace по имени.
	GetByName(ctx context.Context, name string) (*model.Namespace, error)
	// ListByOwner возвращает namespace владельца (owner == nil — все).
	ListByOwner(ctx context.Context, owner *string, limit, offset int) ([]*model.Namespace, error)
	// CredentialsFor возвращает учётки брокера namespace.
	CredentialsFor(ctx context.Context, namespaceID string) ([]*model.Credential, error)
	// Count возвращает количество namespace (owner == nil — все).
	Count(ctx context.Context, owner *string) (int, error)
}

// namespaceRepo — реализация NamespaceRepository.
type namespaceRepo struct {
	db DBTX
}

// NewNamespaceRepository создаёт репозиторий namespace.
func NewNamespaceRepository(db DBTX) NamespaceRepository {
	return &namespaceRepo{db: db}
}

const nsColumns = `id, name, owner_principal, api_key, created_at, updated_at`

func scanNamespace(row pgx.Row) (*model.Namespace, error) {
	ns := &model.Namespace{}
	err := row.Scan(&ns.ID, &ns.Name, &ns.OwnerPrincipal, &ns.APIKey, &ns.CreatedAt, &ns.UpdatedAt)
	return ns, err
}

func (r *namespaceRepo) Reserve(ctx context.Context, name, owner, apiKey string) (*model.Namespace, error) {
	ns := &model.Namespace{
		ID:             uuid.New().String(),
		Name:           name,
		OwnerPrincipal: owner,
		APIKey:         apiKey,
	}

	// Уникальность обеспечивает ограничение БД, без предварительного SELECT
	err := r.db.QueryRow(ctx, `
		INSERT INTO namespaces (id, name, owner_principal, api_key)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		ns.ID, ns.Name, ns.OwnerPrincipal, ns.APIKey,
	).Scan(&ns.CreatedAt, &ns.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: namespace '%s' уже существует", ErrConflict, name)
		}
		return nil, fmt.Errorf("ошибка резервирования namespace: %w", err)
	}
	return ns, nil
}

func (r *namespaceRepo) AttachCredential(ctx context.Context, namespaceID, username, password string) (*model.Credential, error) {
	cred := &model.Credential{
		ID:             uuid.New().String(),
		NamespaceID:    namespaceID,
		BrokerUsername: username,
		BrokerPassword: password,
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO broker_credentials (id, namespace_id, broker_username, broker_password)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		cred.ID, cred.NamespaceID, cred.BrokerUsername, cred.BrokerPassword,
	).Scan(&cred.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения учётки брокера: %w", err)
	}
	return cred, nil
}

func (r *namespaceRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM namespaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления namespace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *namespaceRepo) FindByNameAndKey(ctx context.Context, name, apiKey string) (*model.Namespace, error) {
	query := fmt.Sprintf(`SELECT %s FROM namespaces WHERE name = $1 AND api_key = $2`, nsColumns)
	ns, err := scanNamespace(r.db.QueryRow(ctx, query, name, apiKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска namespace: %w", err)
	}
	return ns, nil
}

func (r *namespaceRepo) GetByName(ctx context.Context, name string) (*model.Namespace, error) {
	query := fmt.Sprintf(`SELECT %s FROM namespaces WHERE name = $1`, nsColumns)
	ns, err := scanNamespace(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения namespace: %w", err)
	}
	return ns, nil
}

func (r *namespaceRepo) ListByOwner(ctx context.Context, owner *string, limit, offset int) ([]*model.Namespace, error) {
	var args []any
	where := ""
	argNum := 1
	if owner != nil {
		where = "WHERE owner_principal = $1"
		args = append(args, *owner)
		argNum++
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM namespaces
		%s
		ORDER BY name
		LIMIT $%d OFFSET $%d`, nsColumns, where, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка namespace: %w", err)
	}
	defer rows.Close()

	var result []*model.Namespace
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования namespace: %w", err)
		}
		result = append(result, ns)
	}
	return result, rows.Err()
}

func (r *namespaceRepo) CredentialsFor(ctx context.Context, namespaceID string) ([]*model.Credential, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, namespace_id, broker_username, broker_password, created_at
		FROM broker_credentials
		WHERE namespace_id = $1
		ORDER BY created_at`, namespaceID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения учёток брокера: %w", err)
	}
	defer rows.Close()

	var result []*model.Credential
	for rows.Next() {
		c := &model.Credential{}
		if err := rows.Scan(&c.ID, &c.NamespaceID, &c.BrokerUsername, &c.BrokerPassword, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования учётки брокера: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *namespaceRepo) Count(ctx context.Context, owner *string) (int, error) {
	var args []any
	query := "SELECT COUNT(*) FROM namespaces"
	if owner != nil {
		query += " WHERE owner_principal = $1"
		args = append(args, *owner)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта namespace: %w", err)
	}
	return count, nil
}
