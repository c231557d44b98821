package acl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudfence/cloudfence/internal/acl"
)

func TestStaticRolesDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "operator", "", nil)
	require.NoError(t, err)

	// Two groups both hold the role and both contain the account.
	f.directory.add(&acl.Account{ID: 7, UUID: "acct-7", Name: "alice", DomainID: rootDomainID, Type: acl.AccountTypeNormal})
	for _, name := range []string{"team-a", "team-b"} {
		group, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, name, "")
		require.NoError(t, err)
		_, err = f.service.AddRolesToGroup(ctx, f.rootCaller, group.ID, []int64{role.ID})
		require.NoError(t, err)
		_, err = f.service.AddAccountsToGroup(ctx, f.rootCaller, group.ID, []int64{7})
		require.NoError(t, err)
	}

	roles, err := f.resolver.StaticRoles(ctx, 7)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, role.ID, roles[0].ID)
}

func TestEffectiveRolesIncludeOwnerRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The well-known owner role lives in the root domain, never linked
	// through any group.
	ownerRole, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, acl.OwnerRoleName, "dynamic owner role", nil)
	require.NoError(t, err)

	staticRole, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "operator", "", nil)
	require.NoError(t, err)
	group, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, "ops", "")
	require.NoError(t, err)
	f.directory.add(&acl.Account{ID: 7, UUID: "acct-7", Name: "alice", DomainID: rootDomainID, Type: acl.AccountTypeNormal})
	_, err = f.service.AddRolesToGroup(ctx, f.rootCaller, group.ID, []int64{staticRole.ID})
	require.NoError(t, err)
	_, err = f.service.AddAccountsToGroup(ctx, f.rootCaller, group.ID, []int64{7})
	require.NoError(t, err)

	caller := acl.Caller{AccountID: 7, DomainID: rootDomainID}
	owned := &testEntity{id: 40, uuid: "vm-40", owner: 7, domain: rootDomainID}
	foreign := &testEntity{id: 41, uuid: "vm-41", owner: 8, domain: rootDomainID}

	roles, err := f.resolver.EffectiveRoles(ctx, caller, owned)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	ids := []int64{roles[0].ID, roles[1].ID}
	assert.Contains(t, ids, staticRole.ID)
	assert.Contains(t, ids, ownerRole.ID)

	roles, err = f.resolver.EffectiveRoles(ctx, caller, foreign)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, staticRole.ID, roles[0].ID)
}

func TestBestPolicyPermissionPrefersBroaderScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	narrow, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "narrow", "", nil)
	require.NoError(t, err)
	broad, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "broad", "", nil)
	require.NoError(t, err)

	seedPolicy(t, f, narrow.ID, "Volume", acl.AccessUse, acl.ScopeAccount)
	seedPolicy(t, f, broad.ID, "Volume", acl.AccessUse, acl.ScopeDomain)

	f.directory.add(&acl.Account{ID: 7, UUID: "acct-7", Name: "alice", DomainID: rootDomainID, Type: acl.AccountTypeNormal})
	group, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, "ops", "")
	require.NoError(t, err)
	_, err = f.service.AddRolesToGroup(ctx, f.rootCaller, group.ID, []int64{narrow.ID, broad.ID})
	require.NoError(t, err)
	_, err = f.service.AddAccountsToGroup(ctx, f.rootCaller, group.ID, []int64{7})
	require.NoError(t, err)

	perm, err := f.resolver.BestPolicyPermission(ctx, 7, "Volume", acl.AccessUse)
	require.NoError(t, err)
	require.NotNil(t, perm)
	assert.Equal(t, acl.ScopeDomain, perm.Scope)
	assert.Equal(t, broad.ID, perm.RoleID)

	perm, err = f.resolver.BestPolicyPermission(ctx, 7, "Snapshot", acl.AccessUse)
	require.NoError(t, err)
	assert.Nil(t, perm)
}

func TestAPIAccessible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "operator", "", nil)
	require.NoError(t, err)
	_, err = f.service.GrantAPIPermissions(ctx, f.rootCaller, role.ID, []string{"listVirtualMachines"})
	require.NoError(t, err)

	other, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "bystander", "", nil)
	require.NoError(t, err)

	ok, err := f.resolver.APIAccessible(ctx, "listVirtualMachines", []*acl.Role{other, role})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.APIAccessible(ctx, "deployVirtualMachine", []*acl.Role{other, role})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.resolver.APIAccessible(ctx, "listVirtualMachines", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntityPermissionSetsKeepConflictingSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.directory.add(&acl.Account{ID: 7, UUID: "acct-7", Name: "alice", DomainID: rootDomainID, Type: acl.AccountTypeNormal})

	allowGroup, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, "allowers", "")
	require.NoError(t, err)
	denyGroup, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, "deniers", "")
	require.NoError(t, err)
	for _, g := range []*acl.Group{allowGroup, denyGroup} {
		_, err = f.service.AddAccountsToGroup(ctx, f.rootCaller, g.ID, []int64{7})
		require.NoError(t, err)
	}

	seedGrant(t, f, allowGroup.ID, "Volume", 7, acl.AccessUse, true)
	seedGrant(t, f, allowGroup.ID, "Volume", 9, acl.AccessUse, true)
	seedGrant(t, f, denyGroup.ID, "Volume", 7, acl.AccessUse, false)

	allowed, denied, err := f.resolver.EntityPermissionSets(ctx, 7, "Volume", acl.AccessUse)
	require.NoError(t, err)

	// Two groups disagree about volume 7: it stays in both sets and
	// precedence is the caller's decision.
	assert.Equal(t, []int64{7, 9}, allowed)
	assert.Equal(t, []int64{7}, denied)
}

func TestGrantedQueriesReturnEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	domains, err := f.resolver.GrantedDomains(ctx, 7, "Volume", "listVolumes")
	require.NoError(t, err)
	assert.Empty(t, domains)

	accounts, err := f.resolver.GrantedAccounts(ctx, 7, "Volume", "listVolumes")
	require.NoError(t, err)
	assert.Empty(t, accounts)

	resources, err := f.resolver.GrantedResources(ctx, 7, "Volume", "listVolumes")
	require.NoError(t, err)
	assert.Empty(t, resources)
}

// seedPolicy writes a policy permission row directly through the store.
func seedPolicy(t *testing.T, f *fixture, roleID int64, entityType string, access acl.AccessType, scope acl.Scope) {
	t.Helper()
	err := f.db.Atomic(context.Background(), func(ctx context.Context, st acl.Stores) error {
		return st.Permissions.UpsertPolicy(ctx, &acl.PolicyPermission{
			RoleID:     roleID,
			EntityType: entityType,
			AccessType: access,
			Scope:      scope,
			Allow:      true,
		})
	})
	require.NoError(t, err)
}

// seedGrant writes an entity grant row directly through the store; deny
// rows have no registry operation on purpose.
func seedGrant(t *testing.T, f *fixture, groupID int64, entityType string, entityID int64, access acl.AccessType, allow bool) {
	t.Helper()
	err := f.db.Atomic(context.Background(), func(ctx context.Context, st acl.Stores) error {
		return st.Grants.Upsert(ctx, &acl.EntityGrant{
			GroupID:    groupID,
			EntityType: entityType,
			EntityID:   entityID,
			EntityUUID: "seed",
			AccessType: access,
			Allow:      allow,
		})
	})
	require.NoError(t, err)
}
