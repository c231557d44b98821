package acl

import (
	"context"
	"fmt"
	"sort"
)

// OwnerRoleName is the well-known dynamic role granted to the owner of an
// entity during effective-role resolution. It lives in the platform root
// domain and is never linked to accounts through groups.
const OwnerRoleName = "RESOURCE_OWNER"

// Resolver answers authorization questions from the current contents of
// the stores. It is stateless and never mutates; every call re-derives
// its answer, so correctness depends only on the read consistency of the
// underlying storage.
type Resolver struct {
	db           DB
	rootDomainID int64
}

func NewResolver(db DB, rootDomainID int64) *Resolver {
	return &Resolver{db: db, rootDomainID: rootDomainID}
}

// StaticRoles returns the roles an account holds through group
// membership, deduplicated.
func (r *Resolver) StaticRoles(ctx context.Context, accountID int64) ([]*Role, error) {
	s := r.db.Stores()
	roleIDs, err := s.Memberships.RoleIDsForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("roles for account %d: %w", accountID, err)
	}
	roles, err := s.Roles.ListByIDs(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("load roles for account %d: %w", accountID, err)
	}
	return roles, nil
}

// EffectiveRoles returns the caller's static roles plus, when the caller
// owns the entity, the dynamic owner role from the root domain. The
// dynamic role is computed per call and never persisted per account.
func (r *Resolver) EffectiveRoles(ctx context.Context, caller Caller, entity ControlledEntity) ([]*Role, error) {
	roles, err := r.StaticRoles(ctx, caller.AccountID)
	if err != nil {
		return nil, err
	}
	if caller.AccountID == entity.OwnerAccountID() {
		owner, err := r.db.Stores().Roles.FindByName(ctx, r.rootDomainID, OwnerRoleName)
		if err != nil {
			return nil, fmt.Errorf("look up owner role: %w", err)
		}
		if owner != nil {
			roles = append(roles, owner)
		}
	}
	return roles, nil
}

// BestPolicyPermission returns the single matching active policy
// permission across all of the account's static roles, preferring the
// broadest scope when several roles grant the same permission. Returns
// nil when no role has a matching grant.
func (r *Resolver) BestPolicyPermission(ctx context.Context, accountID int64, entityType string, access AccessType) (*PolicyPermission, error) {
	roles, err := r.StaticRoles(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s := r.db.Stores()
	var best *PolicyPermission
	for _, role := range roles {
		perm, err := s.Permissions.FindPolicy(ctx, role.ID, entityType, access, true)
		if err != nil {
			return nil, fmt.Errorf("policy permission of role %d: %w", role.ID, err)
		}
		if perm == nil {
			continue
		}
		if best == nil || perm.Scope.Broader(best.Scope) {
			best = perm
		}
	}
	return best, nil
}

// APIAccessible reports whether at least one of the roles holds an API
// permission for apiName. Pure existence, no scope or precedence logic.
func (r *Resolver) APIAccessible(ctx context.Context, apiName string, roles []*Role) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	ids := make([]int64, 0, len(roles))
	for _, role := range roles {
		ids = append(ids, role.ID)
	}
	ok, err := r.db.Stores().Permissions.AnyAPIForRoles(ctx, apiName, ids)
	if err != nil {
		return false, fmt.Errorf("api permission %q: %w", apiName, err)
	}
	return ok, nil
}

// GroupsOf returns the groups an account belongs to, deduplicated.
func (r *Resolver) GroupsOf(ctx context.Context, accountID int64) ([]*Group, error) {
	s := r.db.Stores()
	groupIDs, err := s.Memberships.GroupIDsForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("groups for account %d: %w", accountID, err)
	}
	groups, err := s.Groups.ListByIDs(ctx, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("load groups for account %d: %w", accountID, err)
	}
	return groups, nil
}

// EntityPermissionSets aggregates the account's entity grants across all
// of its groups into an allowed id set and a denied id set. The two sets
// are independent: when two groups disagree about an entity, its id
// appears in both, and conflict precedence is left to the caller.
func (r *Resolver) EntityPermissionSets(ctx context.Context, accountID int64, entityType string, access AccessType) (allowed, denied []int64, err error) {
	groups, err := r.GroupsOf(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	s := r.db.Stores()
	allowedSet := make(map[int64]struct{})
	deniedSet := make(map[int64]struct{})
	for _, group := range groups {
		ids, err := s.Grants.EntityIDs(ctx, group.ID, entityType, access, true)
		if err != nil {
			return nil, nil, fmt.Errorf("allowed grants of group %d: %w", group.ID, err)
		}
		for _, id := range ids {
			allowedSet[id] = struct{}{}
		}
		ids, err = s.Grants.EntityIDs(ctx, group.ID, entityType, access, false)
		if err != nil {
			return nil, nil, fmt.Errorf("denied grants of group %d: %w", group.ID, err)
		}
		for _, id := range ids {
			deniedSet[id] = struct{}{}
		}
	}
	return sortedIDs(allowedSet), sortedIDs(deniedSet), nil
}

// GrantedDomains lists the domains an account may act on for an action.
// Not implemented yet; defined to return an empty result.
func (r *Resolver) GrantedDomains(ctx context.Context, accountID int64, entityType, action string) ([]int64, error) {
	return []int64{}, nil
}

// GrantedAccounts lists the accounts an account may act on for an action.
// Not implemented yet; defined to return an empty result.
func (r *Resolver) GrantedAccounts(ctx context.Context, accountID int64, entityType, action string) ([]int64, error) {
	return []int64{}, nil
}

// GrantedResources lists the resources an account may act on for an
// action. Not implemented yet; defined to return an empty result.
func (r *Resolver) GrantedResources(ctx context.Context, accountID int64, entityType, action string) ([]int64, error) {
	return []int64{}, nil
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
