package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Store is the persistence behind Service.
type Store interface {
	UserEffectivePermissions(ctx context.Context, userID int64) ([]string, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)
}

// Service resolves the capabilities of users.
type Service struct {
	store Store
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{store: &pgStore{pool: pool}}
}

// NewServiceWithStore constructs a Service over a custom store.
func NewServiceWithStore(store Store) *Service {
	return &Service{store: store}
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// EnsureWarehousePermissions makes sure every warehouse permission exists.
func (s *Service) EnsureWarehousePermissions(ctx context.Context) error {
	for _, name := range shared.WarehouseScopes() {
		if _, err := s.store.UpsertPermission(ctx, name, ""); err != nil {
			return err
		}
	}
	return nil
}

// EffectivePermissions returns deduplicated, lower-cased permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.store.UserEffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return normalizePermissions(rows), nil
}

// Actor builds the shared.Actor for a user.
func (s *Service) Actor(ctx context.Context, userID int64) (shared.Actor, error) {
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return shared.Actor{}, err
	}
	return shared.Actor{ID: userID, Permissions: perms}, nil
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (p *pgStore) UserEffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (p *pgStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description); err != nil {
			return nil, err
		}
		out = append(out, perm)
	}
	return out, rows.Err()
}

func (p *pgStore) UpsertPermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return Permission{}, errors.New("rbac: permission name required")
	}
	var perm Permission
	err := p.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, description
	`, name, description).Scan(&perm.ID, &perm.Name, &perm.Description)
	return perm, err
}
