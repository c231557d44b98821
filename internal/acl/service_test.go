package acl_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudfence/cloudfence/internal/acl"
	"github.com/cloudfence/cloudfence/internal/audit"
)

func TestCreateRoleDuplicateName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "operator", "", nil)
	require.NoError(t, err)

	_, err = f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "operator", "", nil)
	assert.True(t, errors.Is(err, acl.ErrInvalidParameter))

	// Same name in another domain is a different role.
	_, err = f.service.CreateRole(ctx, f.rootCaller, 2, "operator", "", nil)
	assert.NoError(t, err)
}

func TestCreateRoleForeignDomainDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.directory.add(&acl.Account{ID: 20, UUID: "acct-20", Name: "bob", DomainID: 2, Type: acl.AccountTypeDomainAdmin})
	caller := acl.Caller{AccountID: 20, DomainID: 2}

	_, err := f.service.CreateRole(ctx, caller, rootDomainID, "intruder", "", nil)
	assert.True(t, errors.Is(err, acl.ErrPermissionDenied))

	// The caller's own domain works, and zero means that domain.
	role, err := f.service.CreateRole(ctx, caller, 0, "local", "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), role.DomainID)
}

func TestCreateRoleCopiesParentPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "parent", "", nil)
	require.NoError(t, err)
	seedPolicy(t, f, parent.ID, "Volume", acl.AccessUse, acl.ScopeAccount)
	seedPolicy(t, f, parent.ID, "Template", acl.AccessRead, acl.ScopeDomain)

	child, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "child", "", &parent.ID)
	require.NoError(t, err)

	childPerms, err := f.db.Stores().Permissions.ListPolicyByRole(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, childPerms, 2)
	for _, perm := range childPerms {
		assert.Equal(t, child.ID, perm.RoleID)
	}

	// Copy, not reference: widening the parent's scope afterwards must
	// not touch the child's rows.
	seedPolicy(t, f, parent.ID, "Volume", acl.AccessUse, acl.ScopeGlobal)
	childPerms, err = f.db.Stores().Permissions.ListPolicyByRole(ctx, child.ID)
	require.NoError(t, err)
	for _, perm := range childPerms {
		if perm.EntityType == "Volume" {
			assert.Equal(t, acl.ScopeAccount, perm.Scope)
		}
	}
}

func TestDeleteRoleCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "operator", "", nil)
	require.NoError(t, err)
	_, err = f.service.GrantAPIPermissions(ctx, f.rootCaller, role.ID, []string{"listVolumes", "attachVolume"})
	require.NoError(t, err)
	seedPolicy(t, f, role.ID, "Volume", acl.AccessUse, acl.ScopeAccount)

	group, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, "ops", "")
	require.NoError(t, err)
	_, err = f.service.AddRolesToGroup(ctx, f.rootCaller, group.ID, []int64{role.ID})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteRole(ctx, f.rootCaller, role.ID))

	st := f.db.Stores()
	deleted, err := st.Roles.FindByID(ctx, role.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)

	apiPerms, err := st.Permissions.ListAPIByRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Empty(t, apiPerms)

	policyPerms, err := st.Permissions.ListPolicyByRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Empty(t, policyPerms)

	linked, err := st.Memberships.HasRole(ctx, group.ID, role.ID)
	require.NoError(t, err)
	assert.False(t, linked)

	// Deleting again reports the missing role.
	err = f.service.DeleteRole(ctx, f.rootCaller, role.ID)
	assert.True(t, errors.Is(err, acl.ErrInvalidParameter))
}

func TestDeleteGroupCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "operator", "", nil)
	require.NoError(t, err)
	group, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, "ops", "")
	require.NoError(t, err)
	f.directory.add(&acl.Account{ID: 7, UUID: "acct-7", Name: "alice", DomainID: rootDomainID, Type: acl.AccountTypeNormal})
	_, err = f.service.AddRolesToGroup(ctx, f.rootCaller, group.ID, []int64{role.ID})
	require.NoError(t, err)
	_, err = f.service.AddAccountsToGroup(ctx, f.rootCaller, group.ID, []int64{7})
	require.NoError(t, err)
	seedGrant(t, f, group.ID, "Volume", 9, acl.AccessUse, true)

	require.NoError(t, f.service.DeleteGroup(ctx, f.rootCaller, group.ID))

	st := f.db.Stores()
	deleted, err := st.Groups.FindByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)

	hasRole, err := st.Memberships.HasRole(ctx, group.ID, role.ID)
	require.NoError(t, err)
	assert.False(t, hasRole)

	hasAccount, err := st.Memberships.HasAccount(ctx, group.ID, 7)
	require.NoError(t, err)
	assert.False(t, hasAccount)

	ids, err := st.Grants.EntityIDs(ctx, group.ID, "Volume", acl.AccessUse, true)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAPIPermissionRevokeThenGrantIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "operator", "", nil)
	require.NoError(t, err)

	grant := func() {
		_, err := f.service.GrantAPIPermissions(ctx, f.rootCaller, role.ID, []string{"listVolumes"})
		require.NoError(t, err)
	}

	grant()
	grant() // re-grant is a no-op, not a duplicate
	perms, err := f.db.Stores().Permissions.ListAPIByRole(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)

	_, err = f.service.RevokeAPIPermissions(ctx, f.rootCaller, role.ID, []string{"listVolumes"})
	require.NoError(t, err)
	grant()

	perms, err = f.db.Stores().Permissions.ListAPIByRole(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "listVolumes", perms[0].APIName)
}

func TestAddRolesToGroupAtomicOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "operator", "", nil)
	require.NoError(t, err)
	group, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, "ops", "")
	require.NoError(t, err)

	// The second id does not exist, so the whole unit rolls back.
	_, err = f.service.AddRolesToGroup(ctx, f.rootCaller, group.ID, []int64{role.ID, 9999})
	assert.True(t, errors.Is(err, acl.ErrInvalidParameter))

	linked, err := f.db.Stores().Memberships.HasRole(ctx, group.ID, role.ID)
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestGrantEntityPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, "ops", "")
	require.NoError(t, err)
	f.finder.add("Volume", &testEntity{id: 9, uuid: "vol-9", owner: 7, domain: rootDomainID})

	_, err = f.service.GrantEntityPermission(ctx, f.rootCaller, group.ID, "Volume", 9, acl.AccessUse)
	require.NoError(t, err)

	grant, err := f.db.Stores().Grants.Find(ctx, group.ID, "Volume", 9, acl.AccessUse)
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.True(t, grant.Allow)
	assert.Equal(t, "vol-9", grant.EntityUUID)

	// Unregistered kind and missing entity are parameter errors.
	_, err = f.service.GrantEntityPermission(ctx, f.rootCaller, group.ID, "Spaceship", 9, acl.AccessUse)
	assert.True(t, errors.Is(err, acl.ErrInvalidParameter))
	_, err = f.service.GrantEntityPermission(ctx, f.rootCaller, group.ID, "Volume", 10, acl.AccessUse)
	assert.True(t, errors.Is(err, acl.ErrInvalidParameter))
}

func TestGrantEntityPermissionDeniedCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, "ops", "")
	require.NoError(t, err)
	// Entity lives in a foreign domain the caller cannot see.
	f.finder.add("Volume", &testEntity{id: 9, uuid: "vol-9", owner: 7, domain: 5})

	f.directory.add(&acl.Account{ID: 30, UUID: "acct-30", Name: "carol", DomainID: rootDomainID, Type: acl.AccountTypeDomainAdmin})
	caller := acl.Caller{AccountID: 30, DomainID: rootDomainID}

	_, err = f.service.GrantEntityPermission(ctx, caller, group.ID, "Volume", 9, acl.AccessUse)
	assert.True(t, errors.Is(err, acl.ErrPermissionDenied))
}

func TestRevokeEntityPermissionRemovesOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group, err := f.service.CreateGroup(ctx, f.rootCaller, rootDomainID, "ops", "")
	require.NoError(t, err)
	f.finder.add("Volume", &testEntity{id: 9, uuid: "vol-9", owner: 7, domain: rootDomainID})

	_, err = f.service.GrantEntityPermission(ctx, f.rootCaller, group.ID, "Volume", 9, acl.AccessUse)
	require.NoError(t, err)
	_, err = f.service.RevokeEntityPermission(ctx, f.rootCaller, group.ID, "Volume", 9, acl.AccessUse)
	require.NoError(t, err)

	// The row is gone, not flipped to an explicit deny.
	grant, err := f.db.Stores().Grants.Find(ctx, group.ID, "Volume", 9, acl.AccessUse)
	require.NoError(t, err)
	assert.Nil(t, grant)

	// Revoking again stays a no-op.
	_, err = f.service.RevokeEntityPermission(ctx, f.rootCaller, group.ID, "Volume", 9, acl.AccessUse)
	assert.NoError(t, err)
}

func TestMutationsEmitAuditEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, f.rootCaller, rootDomainID, "operator", "", nil)
	require.NoError(t, err)
	require.NoError(t, f.service.DeleteRole(ctx, f.rootCaller, role.ID))

	require.Len(t, f.audit.events, 2)
	assert.Equal(t, audit.TypeRoleCreated, f.audit.events[0].Type)
	assert.Equal(t, audit.TypeRoleDeleted, f.audit.events[1].Type)
	assert.Equal(t, f.rootCaller.AccountID, f.audit.events[0].ActorID)
}
