package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cloudfence/cloudfence/internal/acl"
)

// GroupStore implements acl.GroupStore
type GroupStore struct {
	q querier
}

func NewGroupStore(db *DB) *GroupStore {
	return &GroupStore{q: db.pool}
}

func (s *GroupStore) Create(ctx context.Context, group *acl.Group) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO acl_groups (uuid, name, domain_id, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, group.UUID, group.Name, group.DomainID, group.Description).Scan(&group.ID, &group.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("group %q already exists in domain %d: %w", group.Name, group.DomainID, acl.ErrInvalidParameter)
		}
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

func (s *GroupStore) FindByID(ctx context.Context, id int64) (*acl.Group, error) {
	return s.findOne(ctx, `
		SELECT id, uuid, name, domain_id, description, created_at
		FROM acl_groups WHERE id = $1
	`, id)
}

func (s *GroupStore) FindByName(ctx context.Context, domainID int64, name string) (*acl.Group, error) {
	return s.findOne(ctx, `
		SELECT id, uuid, name, domain_id, description, created_at
		FROM acl_groups WHERE domain_id = $1 AND name = $2
	`, domainID, name)
}

func (s *GroupStore) findOne(ctx context.Context, query string, args ...any) (*acl.Group, error) {
	var group acl.Group
	err := s.q.QueryRow(ctx, query, args...).Scan(
		&group.ID, &group.UUID, &group.Name, &group.DomainID, &group.Description, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find group: %w", err)
	}
	return &group, nil
}

func (s *GroupStore) ListByIDs(ctx context.Context, ids []int64) ([]*acl.Group, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, uuid, name, domain_id, description, created_at
		FROM acl_groups WHERE id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*acl.Group
	for rows.Next() {
		var group acl.Group
		if err := rows.Scan(&group.ID, &group.UUID, &group.Name, &group.DomainID, &group.Description, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, &group)
	}
	return groups, rows.Err()
}

func (s *GroupStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM acl_groups WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}
