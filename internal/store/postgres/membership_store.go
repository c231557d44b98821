package postgres

import (
	"context"
	"fmt"
)

// MembershipStore implements acl.MembershipStore over the two link
// tables.
type MembershipStore struct {
	q querier
}

func NewMembershipStore(db *DB) *MembershipStore {
	return &MembershipStore{q: db.pool}
}

func (s *MembershipStore) AddAccount(ctx context.Context, groupID, accountID int64) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO acl_group_accounts (group_id, account_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, account_id) DO NOTHING
	`, groupID, accountID)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("failed to link account to group: %w", err)
	}
	return nil
}

func (s *MembershipStore) RemoveAccount(ctx context.Context, groupID, accountID int64) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM acl_group_accounts WHERE group_id = $1 AND account_id = $2
	`, groupID, accountID)
	if err != nil {
		return fmt.Errorf("failed to unlink account from group: %w", err)
	}
	return nil
}

func (s *MembershipStore) HasAccount(ctx context.Context, groupID, accountID int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM acl_group_accounts WHERE group_id = $1 AND account_id = $2
		)
	`, groupID, accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account link: %w", err)
	}
	return exists, nil
}

func (s *MembershipStore) AddRole(ctx context.Context, groupID, roleID int64) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO acl_group_roles (group_id, role_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, role_id) DO NOTHING
	`, groupID, roleID)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("failed to link role to group: %w", err)
	}
	return nil
}

func (s *MembershipStore) RemoveRole(ctx context.Context, groupID, roleID int64) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM acl_group_roles WHERE group_id = $1 AND role_id = $2
	`, groupID, roleID)
	if err != nil {
		return fmt.Errorf("failed to unlink role from group: %w", err)
	}
	return nil
}

func (s *MembershipStore) HasRole(ctx context.Context, groupID, roleID int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM acl_group_roles WHERE group_id = $1 AND role_id = $2
		)
	`, groupID, roleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check role link: %w", err)
	}
	return exists, nil
}

func (s *MembershipStore) GroupIDsForAccount(ctx context.Context, accountID int64) ([]int64, error) {
	return s.listIDs(ctx, `
		SELECT DISTINCT group_id FROM acl_group_accounts
		WHERE account_id = $1
		ORDER BY group_id
	`, accountID)
}

func (s *MembershipStore) RoleIDsForAccount(ctx context.Context, accountID int64) ([]int64, error) {
	return s.listIDs(ctx, `
		SELECT DISTINCT gr.role_id
		FROM acl_group_roles gr
		INNER JOIN acl_group_accounts ga ON ga.group_id = gr.group_id
		WHERE ga.account_id = $1
		ORDER BY gr.role_id
	`, accountID)
}

func (s *MembershipStore) RemoveByGroup(ctx context.Context, groupID int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM acl_group_accounts WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to remove account links of group: %w", err)
	}
	if _, err := s.q.Exec(ctx, `DELETE FROM acl_group_roles WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to remove role links of group: %w", err)
	}
	return nil
}

func (s *MembershipStore) RemoveRoleLinks(ctx context.Context, roleID int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM acl_group_roles WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to remove group links of role: %w", err)
	}
	return nil
}

func (s *MembershipStore) listIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list membership ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan membership id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
