package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cloudfence/cloudfence/internal/acl"
)

// PermissionStore implements acl.PermissionStore
type PermissionStore struct {
	q querier
}

func NewPermissionStore(db *DB) *PermissionStore {
	return &PermissionStore{q: db.pool}
}

func (s *PermissionStore) UpsertAPI(ctx context.Context, roleID int64, apiName string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO acl_api_permissions (role_id, api_name)
		VALUES ($1, $2)
		ON CONFLICT (role_id, api_name) DO NOTHING
	`, roleID, apiName)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("failed to upsert api permission: %w", err)
	}
	return nil
}

func (s *PermissionStore) DeleteAPI(ctx context.Context, roleID int64, apiName string) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM acl_api_permissions WHERE role_id = $1 AND api_name = $2
	`, roleID, apiName)
	if err != nil {
		return fmt.Errorf("failed to delete api permission: %w", err)
	}
	return nil
}

func (s *PermissionStore) ListAPIByRole(ctx context.Context, roleID int64) ([]acl.ApiPermission, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, role_id, api_name
		FROM acl_api_permissions WHERE role_id = $1
		ORDER BY id
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api permissions: %w", err)
	}
	defer rows.Close()

	var perms []acl.ApiPermission
	for rows.Next() {
		var perm acl.ApiPermission
		if err := rows.Scan(&perm.ID, &perm.RoleID, &perm.APIName); err != nil {
			return nil, fmt.Errorf("failed to scan api permission: %w", err)
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func (s *PermissionStore) DeleteAPIByRole(ctx context.Context, roleID int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM acl_api_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete api permissions of role: %w", err)
	}
	return nil
}

func (s *PermissionStore) AnyAPIForRoles(ctx context.Context, apiName string, roleIDs []int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM acl_api_permissions
			WHERE api_name = $1 AND role_id = ANY($2)
		)
	`, apiName, roleIDs).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check api permission: %w", err)
	}
	return exists, nil
}

func (s *PermissionStore) UpsertPolicy(ctx context.Context, perm *acl.PolicyPermission) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO acl_policy_permissions (role_id, entity_type, access_type, scope, allow)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (role_id, entity_type, access_type, allow)
		DO UPDATE SET scope = EXCLUDED.scope
		RETURNING id
	`, perm.RoleID, perm.EntityType, string(perm.AccessType), int(perm.Scope), perm.Allow).Scan(&perm.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert policy permission: %w", err)
	}
	return nil
}

func (s *PermissionStore) ListPolicyByRole(ctx context.Context, roleID int64) ([]acl.PolicyPermission, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, role_id, entity_type, access_type, scope, allow
		FROM acl_policy_permissions WHERE role_id = $1
		ORDER BY id
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy permissions: %w", err)
	}
	defer rows.Close()

	var perms []acl.PolicyPermission
	for rows.Next() {
		perm, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *perm)
	}
	return perms, rows.Err()
}

func (s *PermissionStore) FindPolicy(ctx context.Context, roleID int64, entityType string, access acl.AccessType, allow bool) (*acl.PolicyPermission, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, role_id, entity_type, access_type, scope, allow
		FROM acl_policy_permissions
		WHERE role_id = $1 AND entity_type = $2 AND access_type = $3 AND allow = $4
	`, roleID, entityType, string(access), allow)
	perm, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return perm, nil
}

func (s *PermissionStore) DeletePolicyByRole(ctx context.Context, roleID int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM acl_policy_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete policy permissions of role: %w", err)
	}
	return nil
}

func scanPolicy(row pgx.Row) (*acl.PolicyPermission, error) {
	var perm acl.PolicyPermission
	var access string
	var scope int
	if err := row.Scan(&perm.ID, &perm.RoleID, &perm.EntityType, &access, &scope, &perm.Allow); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan policy permission: %w", err)
	}
	perm.AccessType = acl.AccessType(access)
	perm.Scope = acl.Scope(scope)
	return &perm, nil
}
