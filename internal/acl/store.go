package acl

import "context"

// RoleStore persists roles. Find methods return nil (not an error) when
// no row matches; error-kind mapping belongs to the service.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	FindByID(ctx context.Context, id int64) (*Role, error)
	FindByName(ctx context.Context, domainID int64, name string) (*Role, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*Role, error)
	Delete(ctx context.Context, id int64) error
}

// GroupStore persists groups, same contract as RoleStore.
type GroupStore interface {
	Create(ctx context.Context, group *Group) error
	FindByID(ctx context.Context, id int64) (*Group, error)
	FindByName(ctx context.Context, domainID int64, name string) (*Group, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*Group, error)
	Delete(ctx context.Context, id int64) error
}

// PermissionStore persists API-name permissions and policy permissions
// for roles. Upserts are idempotent; deletes of absent rows are no-ops.
type PermissionStore interface {
	UpsertAPI(ctx context.Context, roleID int64, apiName string) error
	DeleteAPI(ctx context.Context, roleID int64, apiName string) error
	ListAPIByRole(ctx context.Context, roleID int64) ([]ApiPermission, error)
	DeleteAPIByRole(ctx context.Context, roleID int64) error
	// AnyAPIForRoles reports whether any of the roles holds the API name.
	AnyAPIForRoles(ctx context.Context, apiName string, roleIDs []int64) (bool, error)

	UpsertPolicy(ctx context.Context, perm *PolicyPermission) error
	ListPolicyByRole(ctx context.Context, roleID int64) ([]PolicyPermission, error)
	// FindPolicy returns nil when the role has no matching row.
	FindPolicy(ctx context.Context, roleID int64, entityType string, access AccessType, allow bool) (*PolicyPermission, error)
	DeletePolicyByRole(ctx context.Context, roleID int64) error
}

// MembershipStore persists the group-account and group-role relations.
type MembershipStore interface {
	AddAccount(ctx context.Context, groupID, accountID int64) error
	RemoveAccount(ctx context.Context, groupID, accountID int64) error
	HasAccount(ctx context.Context, groupID, accountID int64) (bool, error)

	AddRole(ctx context.Context, groupID, roleID int64) error
	RemoveRole(ctx context.Context, groupID, roleID int64) error
	HasRole(ctx context.Context, groupID, roleID int64) (bool, error)

	// GroupIDsForAccount lists the groups an account belongs to.
	GroupIDsForAccount(ctx context.Context, accountID int64) ([]int64, error)
	// RoleIDsForAccount joins account -> groups -> roles, deduplicated.
	RoleIDsForAccount(ctx context.Context, accountID int64) ([]int64, error)

	// RemoveByGroup drops every link row of the group, both relations.
	RemoveByGroup(ctx context.Context, groupID int64) error
	// RemoveRoleLinks drops every group-role link referencing the role.
	RemoveRoleLinks(ctx context.Context, roleID int64) error
}

// EntityGrantStore persists per-entity allow/deny grants held by groups.
type EntityGrantStore interface {
	Upsert(ctx context.Context, grant *EntityGrant) error
	// Find returns nil when no row matches the composite key.
	Find(ctx context.Context, groupID int64, entityType string, entityID int64, access AccessType) (*EntityGrant, error)
	Delete(ctx context.Context, groupID int64, entityType string, entityID int64, access AccessType) error
	// EntityIDs lists granted entity ids for one group filtered by the
	// allow flag.
	EntityIDs(ctx context.Context, groupID int64, entityType string, access AccessType, allow bool) ([]int64, error)
	DeleteByGroup(ctx context.Context, groupID int64) error
}

// Stores bundles the five stores as one view, either pool-backed or bound
// to a single transaction.
type Stores struct {
	Roles       RoleStore
	Groups      GroupStore
	Permissions PermissionStore
	Grants      EntityGrantStore
	Memberships MembershipStore
}

// DB is the atomic unit of work over the stores. Atomic runs fn against a
// transactional view and commits only if fn returns nil; Stores returns
// the plain view for lock-free reads.
type DB interface {
	Stores() Stores
	Atomic(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
