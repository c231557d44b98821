package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cloudfence/cloudfence/internal/acl"
)

// EntityGrantStore implements acl.EntityGrantStore
type EntityGrantStore struct {
	q querier
}

func NewEntityGrantStore(db *DB) *EntityGrantStore {
	return &EntityGrantStore{q: db.pool}
}

func (s *EntityGrantStore) Upsert(ctx context.Context, grant *acl.EntityGrant) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO acl_entity_grants (group_id, entity_type, entity_id, entity_uuid, access_type, allow)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (group_id, entity_type, entity_id, access_type)
		DO UPDATE SET allow = EXCLUDED.allow, entity_uuid = EXCLUDED.entity_uuid
		RETURNING id
	`, grant.GroupID, grant.EntityType, grant.EntityID, grant.EntityUUID, string(grant.AccessType), grant.Allow).Scan(&grant.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert entity grant: %w", err)
	}
	return nil
}

func (s *EntityGrantStore) Find(ctx context.Context, groupID int64, entityType string, entityID int64, access acl.AccessType) (*acl.EntityGrant, error) {
	var grant acl.EntityGrant
	var accessStr string
	err := s.q.QueryRow(ctx, `
		SELECT id, group_id, entity_type, entity_id, entity_uuid, access_type, allow
		FROM acl_entity_grants
		WHERE group_id = $1 AND entity_type = $2 AND entity_id = $3 AND access_type = $4
	`, groupID, entityType, entityID, string(access)).Scan(
		&grant.ID, &grant.GroupID, &grant.EntityType, &grant.EntityID, &grant.EntityUUID, &accessStr, &grant.Allow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find entity grant: %w", err)
	}
	grant.AccessType = acl.AccessType(accessStr)
	return &grant, nil
}

func (s *EntityGrantStore) Delete(ctx context.Context, groupID int64, entityType string, entityID int64, access acl.AccessType) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM acl_entity_grants
		WHERE group_id = $1 AND entity_type = $2 AND entity_id = $3 AND access_type = $4
	`, groupID, entityType, entityID, string(access))
	if err != nil {
		return fmt.Errorf("failed to delete entity grant: %w", err)
	}
	return nil
}

func (s *EntityGrantStore) EntityIDs(ctx context.Context, groupID int64, entityType string, access acl.AccessType, allow bool) ([]int64, error) {
	rows, err := s.q.Query(ctx, `
		SELECT entity_id FROM acl_entity_grants
		WHERE group_id = $1 AND entity_type = $2 AND access_type = $3 AND allow = $4
		ORDER BY entity_id
	`, groupID, entityType, string(access), allow)
	if err != nil {
		return nil, fmt.Errorf("failed to list granted entity ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan granted entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *EntityGrantStore) DeleteByGroup(ctx context.Context, groupID int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM acl_entity_grants WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to delete entity grants of group: %w", err)
	}
	return nil
}
