// Package memory is a map-backed implementation of the acl stores, used
// by tests and local development. Atomic snapshots the whole state and
// restores it when the unit of work fails, mirroring the rollback
// behavior of the postgres implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloudfence/cloudfence/internal/acl"
)

type pair struct {
	left, right int64
}

type state struct {
	nextID        int64
	roles         map[int64]acl.Role
	groups        map[int64]acl.Group
	apiPerms      map[int64]acl.ApiPermission
	policyPerms   map[int64]acl.PolicyPermission
	grants        map[int64]acl.EntityGrant
	groupAccounts map[pair]struct{}
	groupRoles    map[pair]struct{}
}

func newState() *state {
	return &state{
		roles:         make(map[int64]acl.Role),
		groups:        make(map[int64]acl.Group),
		apiPerms:      make(map[int64]acl.ApiPermission),
		policyPerms:   make(map[int64]acl.PolicyPermission),
		grants:        make(map[int64]acl.EntityGrant),
		groupAccounts: make(map[pair]struct{}),
		groupRoles:    make(map[pair]struct{}),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.apiPerms {
		c.apiPerms[k] = v
	}
	for k, v := range s.policyPerms {
		c.policyPerms[k] = v
	}
	for k, v := range s.grants {
		c.grants[k] = v
	}
	for k := range s.groupAccounts {
		c.groupAccounts[k] = struct{}{}
	}
	for k := range s.groupRoles {
		c.groupRoles[k] = struct{}{}
	}
	return c
}

// DB implements acl.DB in memory.
type DB struct {
	mu    sync.Mutex
	state *state
}

func New() *DB {
	return &DB{state: newState()}
}

// Stores returns the locking view of the stores.
func (db *DB) Stores() acl.Stores {
	return storesOver(db, db.state)
}

// Atomic runs fn under the database lock against the live state. When fn
// fails, the pre-call snapshot is restored, so partial changes never
// survive.
func (db *DB) Atomic(ctx context.Context, fn func(ctx context.Context, s acl.Stores) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	snapshot := db.state.clone()
	if err := fn(ctx, storesOver(nil, db.state)); err != nil {
		db.state = snapshot
		return err
	}
	return nil
}

func storesOver(db *DB, st *state) acl.Stores {
	b := base{db: db, state: st}
	return acl.Stores{
		Roles:       &roleStore{b},
		Groups:      &groupStore{b},
		Permissions: &permissionStore{b},
		Grants:      &grantStore{b},
		Memberships: &membershipStore{b},
	}
}

// base holds the shared lock discipline: store methods lock the database
// unless they already run inside Atomic (db == nil).
type base struct {
	db    *DB
	state *state
}

func (b *base) lock() func() {
	if b.db == nil {
		return func() {}
	}
	b.db.mu.Lock()
	return b.db.mu.Unlock
}

// cur returns the state to operate on. Outside Atomic the database state
// pointer may have been swapped by a rollback, so re-read it.
func (b *base) cur() *state {
	if b.db != nil {
		return b.db.state
	}
	return b.state
}

func (b *base) nextID() int64 {
	s := b.cur()
	s.nextID++
	return s.nextID
}

type roleStore struct{ base }

func (r *roleStore) Create(ctx context.Context, role *acl.Role) error {
	defer r.lock()()
	role.ID = r.nextID()
	role.CreatedAt = time.Now()
	r.cur().roles[role.ID] = *role
	return nil
}

func (r *roleStore) FindByID(ctx context.Context, id int64) (*acl.Role, error) {
	defer r.lock()()
	if role, ok := r.cur().roles[id]; ok {
		return &role, nil
	}
	return nil, nil
}

func (r *roleStore) FindByName(ctx context.Context, domainID int64, name string) (*acl.Role, error) {
	defer r.lock()()
	for _, role := range r.cur().roles {
		if role.DomainID == domainID && role.Name == name {
			role := role
			return &role, nil
		}
	}
	return nil, nil
}

func (r *roleStore) ListByIDs(ctx context.Context, ids []int64) ([]*acl.Role, error) {
	defer r.lock()()
	roles := make([]*acl.Role, 0, len(ids))
	for _, id := range ids {
		if role, ok := r.cur().roles[id]; ok {
			role := role
			roles = append(roles, &role)
		}
	}
	return roles, nil
}

func (r *roleStore) Delete(ctx context.Context, id int64) error {
	defer r.lock()()
	delete(r.cur().roles, id)
	return nil
}

type groupStore struct{ base }

func (g *groupStore) Create(ctx context.Context, group *acl.Group) error {
	defer g.lock()()
	group.ID = g.nextID()
	group.CreatedAt = time.Now()
	g.cur().groups[group.ID] = *group
	return nil
}

func (g *groupStore) FindByID(ctx context.Context, id int64) (*acl.Group, error) {
	defer g.lock()()
	if group, ok := g.cur().groups[id]; ok {
		return &group, nil
	}
	return nil, nil
}

func (g *groupStore) FindByName(ctx context.Context, domainID int64, name string) (*acl.Group, error) {
	defer g.lock()()
	for _, group := range g.cur().groups {
		if group.DomainID == domainID && group.Name == name {
			group := group
			return &group, nil
		}
	}
	return nil, nil
}

func (g *groupStore) ListByIDs(ctx context.Context, ids []int64) ([]*acl.Group, error) {
	defer g.lock()()
	groups := make([]*acl.Group, 0, len(ids))
	for _, id := range ids {
		if group, ok := g.cur().groups[id]; ok {
			group := group
			groups = append(groups, &group)
		}
	}
	return groups, nil
}

func (g *groupStore) Delete(ctx context.Context, id int64) error {
	defer g.lock()()
	delete(g.cur().groups, id)
	return nil
}

type permissionStore struct{ base }

func (p *permissionStore) UpsertAPI(ctx context.Context, roleID int64, apiName string) error {
	defer p.lock()()
	for _, perm := range p.cur().apiPerms {
		if perm.RoleID == roleID && perm.APIName == apiName {
			return nil
		}
	}
	id := p.nextID()
	p.cur().apiPerms[id] = acl.ApiPermission{ID: id, RoleID: roleID, APIName: apiName}
	return nil
}

func (p *permissionStore) DeleteAPI(ctx context.Context, roleID int64, apiName string) error {
	defer p.lock()()
	for id, perm := range p.cur().apiPerms {
		if perm.RoleID == roleID && perm.APIName == apiName {
			delete(p.cur().apiPerms, id)
		}
	}
	return nil
}

func (p *permissionStore) ListAPIByRole(ctx context.Context, roleID int64) ([]acl.ApiPermission, error) {
	defer p.lock()()
	var perms []acl.ApiPermission
	for _, perm := range p.cur().apiPerms {
		if perm.RoleID == roleID {
			perms = append(perms, perm)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms, nil
}

func (p *permissionStore) DeleteAPIByRole(ctx context.Context, roleID int64) error {
	defer p.lock()()
	for id, perm := range p.cur().apiPerms {
		if perm.RoleID == roleID {
			delete(p.cur().apiPerms, id)
		}
	}
	return nil
}

func (p *permissionStore) AnyAPIForRoles(ctx context.Context, apiName string, roleIDs []int64) (bool, error) {
	defer p.lock()()
	ids := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		ids[id] = struct{}{}
	}
	for _, perm := range p.cur().apiPerms {
		if perm.APIName != apiName {
			continue
		}
		if _, ok := ids[perm.RoleID]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *permissionStore) UpsertPolicy(ctx context.Context, perm *acl.PolicyPermission) error {
	defer p.lock()()
	for id, existing := range p.cur().policyPerms {
		if existing.RoleID == perm.RoleID && existing.EntityType == perm.EntityType &&
			existing.AccessType == perm.AccessType && existing.Allow == perm.Allow {
			existing.Scope = perm.Scope
			p.cur().policyPerms[id] = existing
			perm.ID = id
			return nil
		}
	}
	perm.ID = p.nextID()
	p.cur().policyPerms[perm.ID] = *perm
	return nil
}

func (p *permissionStore) ListPolicyByRole(ctx context.Context, roleID int64) ([]acl.PolicyPermission, error) {
	defer p.lock()()
	var perms []acl.PolicyPermission
	for _, perm := range p.cur().policyPerms {
		if perm.RoleID == roleID {
			perms = append(perms, perm)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms, nil
}

func (p *permissionStore) FindPolicy(ctx context.Context, roleID int64, entityType string, access acl.AccessType, allow bool) (*acl.PolicyPermission, error) {
	defer p.lock()()
	for _, perm := range p.cur().policyPerms {
		if perm.RoleID == roleID && perm.EntityType == entityType &&
			perm.AccessType == access && perm.Allow == allow {
			perm := perm
			return &perm, nil
		}
	}
	return nil, nil
}

func (p *permissionStore) DeletePolicyByRole(ctx context.Context, roleID int64) error {
	defer p.lock()()
	for id, perm := range p.cur().policyPerms {
		if perm.RoleID == roleID {
			delete(p.cur().policyPerms, id)
		}
	}
	return nil
}

type grantStore struct{ base }

func (g *grantStore) Upsert(ctx context.Context, grant *acl.EntityGrant) error {
	defer g.lock()()
	for id, existing := range g.cur().grants {
		if existing.GroupID == grant.GroupID && existing.EntityType == grant.EntityType &&
			existing.EntityID == grant.EntityID && existing.AccessType == grant.AccessType {
			existing.Allow = grant.Allow
			existing.EntityUUID = grant.EntityUUID
			g.cur().grants[id] = existing
			grant.ID = id
			return nil
		}
	}
	grant.ID = g.nextID()
	g.cur().grants[grant.ID] = *grant
	return nil
}

func (g *grantStore) Find(ctx context.Context, groupID int64, entityType string, entityID int64, access acl.AccessType) (*acl.EntityGrant, error) {
	defer g.lock()()
	for _, grant := range g.cur().grants {
		if grant.GroupID == groupID && grant.EntityType == entityType &&
			grant.EntityID == entityID && grant.AccessType == access {
			grant := grant
			return &grant, nil
		}
	}
	return nil, nil
}

func (g *grantStore) Delete(ctx context.Context, groupID int64, entityType string, entityID int64, access acl.AccessType) error {
	defer g.lock()()
	for id, grant := range g.cur().grants {
		if grant.GroupID == groupID && grant.EntityType == entityType &&
			grant.EntityID == entityID && grant.AccessType == access {
			delete(g.cur().grants, id)
		}
	}
	return nil
}

func (g *grantStore) EntityIDs(ctx context.Context, groupID int64, entityType string, access acl.AccessType, allow bool) ([]int64, error) {
	defer g.lock()()
	var ids []int64
	for _, grant := range g.cur().grants {
		if grant.GroupID == groupID && grant.EntityType == entityType &&
			grant.AccessType == access && grant.Allow == allow {
			ids = append(ids, grant.EntityID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (g *grantStore) DeleteByGroup(ctx context.Context, groupID int64) error {
	defer g.lock()()
	for id, grant := range g.cur().grants {
		if grant.GroupID == groupID {
			delete(g.cur().grants, id)
		}
	}
	return nil
}

type membershipStore struct{ base }

func (m *membershipStore) AddAccount(ctx context.Context, groupID, accountID int64) error {
	defer m.lock()()
	m.cur().groupAccounts[pair{groupID, accountID}] = struct{}{}
	return nil
}

func (m *membershipStore) RemoveAccount(ctx context.Context, groupID, accountID int64) error {
	defer m.lock()()
	delete(m.cur().groupAccounts, pair{groupID, accountID})
	return nil
}

func (m *membershipStore) HasAccount(ctx context.Context, groupID, accountID int64) (bool, error) {
	defer m.lock()()
	_, ok := m.cur().groupAccounts[pair{groupID, accountID}]
	return ok, nil
}

func (m *membershipStore) AddRole(ctx context.Context, groupID, roleID int64) error {
	defer m.lock()()
	m.cur().groupRoles[pair{groupID, roleID}] = struct{}{}
	return nil
}

func (m *membershipStore) RemoveRole(ctx context.Context, groupID, roleID int64) error {
	defer m.lock()()
	delete(m.cur().groupRoles, pair{groupID, roleID})
	return nil
}

func (m *membershipStore) HasRole(ctx context.Context, groupID, roleID int64) (bool, error) {
	defer m.lock()()
	_, ok := m.cur().groupRoles[pair{groupID, roleID}]
	return ok, nil
}

func (m *membershipStore) GroupIDsForAccount(ctx context.Context, accountID int64) ([]int64, error) {
	defer m.lock()()
	seen := make(map[int64]struct{})
	for link := range m.cur().groupAccounts {
		if link.right == accountID {
			seen[link.left] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

func (m *membershipStore) RoleIDsForAccount(ctx context.Context, accountID int64) ([]int64, error) {
	defer m.lock()()
	groups := make(map[int64]struct{})
	for link := range m.cur().groupAccounts {
		if link.right == accountID {
			groups[link.left] = struct{}{}
		}
	}
	roles := make(map[int64]struct{})
	for link := range m.cur().groupRoles {
		if _, ok := groups[link.left]; ok {
			roles[link.right] = struct{}{}
		}
	}
	return sortedKeys(roles), nil
}

func (m *membershipStore) RemoveByGroup(ctx context.Context, groupID int64) error {
	defer m.lock()()
	for link := range m.cur().groupAccounts {
		if link.left == groupID {
			delete(m.cur().groupAccounts, link)
		}
	}
	for link := range m.cur().groupRoles {
		if link.left == groupID {
			delete(m.cur().groupRoles, link)
		}
	}
	return nil
}

func (m *membershipStore) RemoveRoleLinks(ctx context.Context, roleID int64) error {
	defer m.lock()()
	for link := range m.cur().groupRoles {
		if link.right == roleID {
			delete(m.cur().groupRoles, link)
		}
	}
	return nil
}

func sortedKeys(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
