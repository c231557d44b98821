package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cloudfence/cloudfence/internal/acl"
)

// AccountDirectory implements acl.Directory over the accounts table, the
// platform's materialized view of the external directory service.
type AccountDirectory struct {
	db *DB
}

func NewAccountDirectory(db *DB) *AccountDirectory {
	return &AccountDirectory{db: db}
}

func (d *AccountDirectory) FindAccount(ctx context.Context, id int64) (*acl.Account, error) {
	var account acl.Account
	err := d.db.pool.QueryRow(ctx, `
		SELECT id, uuid, name, domain_id, type
		FROM accounts WHERE id = $1
	`, id).Scan(&account.ID, &account.UUID, &account.Name, &account.DomainID, &account.Type)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &account, nil
}
