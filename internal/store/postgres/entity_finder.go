package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cloudfence/cloudfence/internal/acl"
)

// controlledEntity is a row of the controlled_entities table.
type controlledEntity struct {
	id        int64
	uuid      string
	kind      string
	name      string
	accountID int64
	domainID  int64
}

func (e *controlledEntity) EntityID() int64       { return e.id }
func (e *controlledEntity) EntityUUID() string    { return e.uuid }
func (e *controlledEntity) OwnerAccountID() int64 { return e.accountID }
func (e *controlledEntity) EntityDomainID() int64 { return e.domainID }

// EntityFinder implements acl.EntityFinder over the controlled_entities
// table that mirrors the platform's resource inventory.
type EntityFinder struct {
	db *DB
}

func NewEntityFinder(db *DB) *EntityFinder {
	return &EntityFinder{db: db}
}

func (f *EntityFinder) FindEntity(ctx context.Context, tag string, id int64) (acl.ControlledEntity, error) {
	var e controlledEntity
	err := f.db.pool.QueryRow(ctx, `
		SELECT id, uuid, kind, name, account_id, domain_id
		FROM controlled_entities WHERE kind = $1 AND id = $2
	`, tag, id).Scan(&e.id, &e.uuid, &e.kind, &e.name, &e.accountID, &e.domainID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find entity: %w", err)
	}
	return &e, nil
}
