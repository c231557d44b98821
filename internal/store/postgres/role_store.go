package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cloudfence/cloudfence/internal/acl"
)

// RoleStore implements acl.RoleStore
type RoleStore struct {
	q querier
}

func NewRoleStore(db *DB) *RoleStore {
	return &RoleStore{q: db.pool}
}

func (s *RoleStore) Create(ctx context.Context, role *acl.Role) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO acl_roles (uuid, name, domain_id, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, role.UUID, role.Name, role.DomainID, role.Description).Scan(&role.ID, &role.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a create race on the domain-unique name.
			return fmt.Errorf("role %q already exists in domain %d: %w", role.Name, role.DomainID, acl.ErrInvalidParameter)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

func (s *RoleStore) FindByID(ctx context.Context, id int64) (*acl.Role, error) {
	return s.findOne(ctx, `
		SELECT id, uuid, name, domain_id, description, created_at
		FROM acl_roles WHERE id = $1
	`, id)
}

func (s *RoleStore) FindByName(ctx context.Context, domainID int64, name string) (*acl.Role, error) {
	return s.findOne(ctx, `
		SELECT id, uuid, name, domain_id, description, created_at
		FROM acl_roles WHERE domain_id = $1 AND name = $2
	`, domainID, name)
}

func (s *RoleStore) findOne(ctx context.Context, query string, args ...any) (*acl.Role, error) {
	var role acl.Role
	err := s.q.QueryRow(ctx, query, args...).Scan(
		&role.ID, &role.UUID, &role.Name, &role.DomainID, &role.Description, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find role: %w", err)
	}
	return &role, nil
}

func (s *RoleStore) ListByIDs(ctx context.Context, ids []int64) ([]*acl.Role, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, uuid, name, domain_id, description, created_at
		FROM acl_roles WHERE id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*acl.Role
	for rows.Next() {
		var role acl.Role
		if err := rows.Scan(&role.ID, &role.UUID, &role.Name, &role.DomainID, &role.Description, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

func (s *RoleStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM acl_roles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}
