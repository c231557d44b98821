// Copyright 2026 The CloudFence Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package acl

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cloudfence/cloudfence/internal/audit"
)

// Service is the role/group registry: every administrative mutation of
// the permission, grant, and membership stores goes through it. Each
// operation runs its row changes as one atomic unit, so partial cascades
// cannot survive a failure.
type Service struct {
	db          DB
	directory   Directory
	checker     AccessChecker
	finder      EntityFinder
	kinds       *EntityKinds
	auditLogger audit.Logger
}

// NewService creates a new registry service
func NewService(db DB, directory Directory, checker AccessChecker, finder EntityFinder, kinds *EntityKinds, auditLogger audit.Logger) *Service {
	return &Service{
		db:          db,
		directory:   directory,
		checker:     checker,
		finder:      finder,
		kinds:       kinds,
		auditLogger: auditLogger,
	}
}

// CreateRole creates a role in the domain. domainID zero means the
// caller's own domain; only root admins may target a foreign domain.
// When parentRoleID is set, every policy permission of the parent is
// copied to the new role in the same atomic unit.
func (s *Service) CreateRole(ctx context.Context, caller Caller, domainID int64, name, description string, parentRoleID *int64) (*Role, error) {
	if domainID == 0 {
		domainID = caller.DomainID
	}
	isRoot, err := s.checker.IsRootAdmin(ctx, caller.AccountID)
	if err != nil {
		return nil, err
	}
	if !isRoot && caller.DomainID != domainID {
		return nil, fmt.Errorf("cannot create role in domain %d: %w", domainID, ErrPermissionDenied)
	}

	existing, err := s.db.Stores().Roles.FindByName(ctx, domainID, name)
	if err != nil {
		return nil, fmt.Errorf("look up role name %q: %w", name, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("role %q already exists in domain %d: %w", name, domainID, ErrInvalidParameter)
	}

	role := &Role{
		UUID:        uuid.NewString(),
		Name:        name,
		DomainID:    domainID,
		Description: description,
	}
	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		if err := st.Roles.Create(ctx, role); err != nil {
			return fmt.Errorf("create role %q: %w", name, err)
		}
		if parentRoleID == nil {
			return nil
		}
		// Copy, not reference: later changes to the parent must not
		// affect the child.
		perms, err := st.Permissions.ListPolicyByRole(ctx, *parentRoleID)
		if err != nil {
			return fmt.Errorf("list parent role %d permissions: %w", *parentRoleID, err)
		}
		for _, perm := range perms {
			copied := perm
			copied.ID = 0
			copied.RoleID = role.ID
			if err := st.Permissions.UpsertPolicy(ctx, &copied); err != nil {
				return fmt.Errorf("copy parent permission: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeRoleCreated,
		Description: "creating acl role",
		DomainID:    domainID,
		ActorID:     caller.AccountID,
		Resource:    role.UUID,
		Metadata:    map[string]any{"name": name},
	})
	return role, nil
}

// DeleteRole removes the role together with every group-role link and
// permission row referencing it, atomically.
func (s *Service) DeleteRole(ctx context.Context, caller Caller, roleID int64) error {
	role, err := s.db.Stores().Roles.FindByID(ctx, roleID)
	if err != nil {
		return fmt.Errorf("look up role %d: %w", roleID, err)
	}
	if role == nil {
		return fmt.Errorf("role %d does not exist: %w", roleID, ErrInvalidParameter)
	}
	if err := s.checker.CheckAccess(ctx, caller, 0, true, role); err != nil {
		return err
	}

	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		if err := st.Memberships.RemoveRoleLinks(ctx, roleID); err != nil {
			return fmt.Errorf("remove group links of role %d: %w", roleID, err)
		}
		if err := st.Permissions.DeleteAPIByRole(ctx, roleID); err != nil {
			return fmt.Errorf("remove api permissions of role %d: %w", roleID, err)
		}
		if err := st.Permissions.DeletePolicyByRole(ctx, roleID); err != nil {
			return fmt.Errorf("remove policy permissions of role %d: %w", roleID, err)
		}
		if err := st.Roles.Delete(ctx, roleID); err != nil {
			return fmt.Errorf("delete role %d: %w", roleID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeRoleDeleted,
		Description: "deleting acl role",
		DomainID:    role.DomainID,
		ActorID:     caller.AccountID,
		Resource:    role.UUID,
	})
	return nil
}

// CreateGroup creates a group in the domain, same scoping rules as
// CreateRole.
func (s *Service) CreateGroup(ctx context.Context, caller Caller, domainID int64, name, description string) (*Group, error) {
	if domainID == 0 {
		domainID = caller.DomainID
	}
	isRoot, err := s.checker.IsRootAdmin(ctx, caller.AccountID)
	if err != nil {
		return nil, err
	}
	if !isRoot && caller.DomainID != domainID {
		return nil, fmt.Errorf("cannot create group in domain %d: %w", domainID, ErrPermissionDenied)
	}

	existing, err := s.db.Stores().Groups.FindByName(ctx, domainID, name)
	if err != nil {
		return nil, fmt.Errorf("look up group name %q: %w", name, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("group %q already exists in domain %d: %w", name, domainID, ErrInvalidParameter)
	}

	group := &Group{
		UUID:        uuid.NewString(),
		Name:        name,
		DomainID:    domainID,
		Description: description,
	}
	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		return st.Groups.Create(ctx, group)
	})
	if err != nil {
		return nil, fmt.Errorf("create group %q: %w", name, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeGroupCreated,
		Description: "creating acl group",
		DomainID:    domainID,
		ActorID:     caller.AccountID,
		Resource:    group.UUID,
		Metadata:    map[string]any{"name": name},
	})
	return group, nil
}

// DeleteGroup removes the group together with every membership link and
// entity grant referencing it, atomically.
func (s *Service) DeleteGroup(ctx context.Context, caller Caller, groupID int64) error {
	group, err := s.db.Stores().Groups.FindByID(ctx, groupID)
	if err != nil {
		return fmt.Errorf("look up group %d: %w", groupID, err)
	}
	if group == nil {
		return fmt.Errorf("group %d does not exist: %w", groupID, ErrInvalidParameter)
	}
	if err := s.checker.CheckAccess(ctx, caller, 0, true, group); err != nil {
		return err
	}

	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		if err := st.Memberships.RemoveByGroup(ctx, groupID); err != nil {
			return fmt.Errorf("remove membership links of group %d: %w", groupID, err)
		}
		if err := st.Grants.DeleteByGroup(ctx, groupID); err != nil {
			return fmt.Errorf("remove entity grants of group %d: %w", groupID, err)
		}
		if err := st.Groups.Delete(ctx, groupID); err != nil {
			return fmt.Errorf("delete group %d: %w", groupID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeGroupDeleted,
		Description: "deleting acl group",
		DomainID:    group.DomainID,
		ActorID:     caller.AccountID,
		Resource:    group.UUID,
	})
	return nil
}

// GrantAPIPermissions upserts one ApiPermission row per name, idempotent
// under re-grant.
func (s *Service) GrantAPIPermissions(ctx context.Context, caller Caller, roleID int64, apiNames []string) (*Role, error) {
	role, err := s.requireRole(ctx, caller, roleID)
	if err != nil {
		return nil, err
	}

	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		for _, name := range apiNames {
			if err := st.Permissions.UpsertAPI(ctx, roleID, name); err != nil {
				return fmt.Errorf("grant api %q to role %d: %w", name, roleID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeAPIPermGranted,
		Description: "granting api permission to acl role",
		DomainID:    role.DomainID,
		ActorID:     caller.AccountID,
		Resource:    role.UUID,
		Metadata:    map[string]any{"api_names": apiNames},
	})
	return role, nil
}

// RevokeAPIPermissions removes ApiPermission rows; absent names are
// no-ops.
func (s *Service) RevokeAPIPermissions(ctx context.Context, caller Caller, roleID int64, apiNames []string) (*Role, error) {
	role, err := s.requireRole(ctx, caller, roleID)
	if err != nil {
		return nil, err
	}

	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		for _, name := range apiNames {
			if err := st.Permissions.DeleteAPI(ctx, roleID, name); err != nil {
				return fmt.Errorf("revoke api %q from role %d: %w", name, roleID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeAPIPermRevoked,
		Description: "revoking api permission from acl role",
		DomainID:    role.DomainID,
		ActorID:     caller.AccountID,
		Resource:    role.UUID,
		Metadata:    map[string]any{"api_names": apiNames},
	})
	return role, nil
}

// AddRolesToGroup links roles to the group. Every role id is
// independently existence-checked and access-checked inside the atomic
// unit; the links are idempotent under re-grant.
func (s *Service) AddRolesToGroup(ctx context.Context, caller Caller, groupID int64, roleIDs []int64) (*Group, error) {
	group, err := s.requireGroup(ctx, caller, groupID)
	if err != nil {
		return nil, err
	}

	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		for _, roleID := range roleIDs {
			role, err := st.Roles.FindByID(ctx, roleID)
			if err != nil {
				return fmt.Errorf("look up role %d: %w", roleID, err)
			}
			if role == nil {
				return fmt.Errorf("role %d does not exist: %w", roleID, ErrInvalidParameter)
			}
			if err := s.checker.CheckAccess(ctx, caller, 0, true, role); err != nil {
				return err
			}
			if err := st.Memberships.AddRole(ctx, groupID, roleID); err != nil {
				return fmt.Errorf("link role %d to group %d: %w", roleID, groupID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeGroupRolesAdded,
		Description: "adding roles to acl group",
		DomainID:    group.DomainID,
		ActorID:     caller.AccountID,
		Resource:    group.UUID,
		Metadata:    map[string]any{"role_ids": roleIDs},
	})
	return group, nil
}

// RemoveRolesFromGroup unlinks roles from the group; absent links are
// no-ops.
func (s *Service) RemoveRolesFromGroup(ctx context.Context, caller Caller, groupID int64, roleIDs []int64) (*Group, error) {
	group, err := s.requireGroup(ctx, caller, groupID)
	if err != nil {
		return nil, err
	}

	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		for _, roleID := range roleIDs {
			role, err := st.Roles.FindByID(ctx, roleID)
			if err != nil {
				return fmt.Errorf("look up role %d: %w", roleID, err)
			}
			if role == nil {
				return fmt.Errorf("role %d does not exist: %w", roleID, ErrInvalidParameter)
			}
			if err := s.checker.CheckAccess(ctx, caller, 0, true, role); err != nil {
				return err
			}
			if err := st.Memberships.RemoveRole(ctx, groupID, roleID); err != nil {
				return fmt.Errorf("unlink role %d from group %d: %w", roleID, groupID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeGroupRolesRemoved,
		Description: "removing roles from acl group",
		DomainID:    group.DomainID,
		ActorID:     caller.AccountID,
		Resource:    group.UUID,
		Metadata:    map[string]any{"role_ids": roleIDs},
	})
	return group, nil
}

// AddAccountsToGroup links accounts to the group, each one existence- and
// access-checked against the caller.
func (s *Service) AddAccountsToGroup(ctx context.Context, caller Caller, groupID int64, accountIDs []int64) (*Group, error) {
	group, err := s.requireGroup(ctx, caller, groupID)
	if err != nil {
		return nil, err
	}

	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		for _, accountID := range accountIDs {
			account, err := s.directory.FindAccount(ctx, accountID)
			if err != nil {
				return fmt.Errorf("look up account %d: %w", accountID, err)
			}
			if account == nil {
				return fmt.Errorf("account %d does not exist: %w", accountID, ErrInvalidParameter)
			}
			if err := s.checker.CheckAccess(ctx, caller, 0, true, account); err != nil {
				return err
			}
			if err := st.Memberships.AddAccount(ctx, groupID, accountID); err != nil {
				return fmt.Errorf("link account %d to group %d: %w", accountID, groupID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeGroupAccountsAdded,
		Description: "adding accounts to acl group",
		DomainID:    group.DomainID,
		ActorID:     caller.AccountID,
		Resource:    group.UUID,
		Metadata:    map[string]any{"account_ids": accountIDs},
	})
	return group, nil
}

// RemoveAccountsFromGroup unlinks accounts from the group.
func (s *Service) RemoveAccountsFromGroup(ctx context.Context, caller Caller, groupID int64, accountIDs []int64) (*Group, error) {
	group, err := s.requireGroup(ctx, caller, groupID)
	if err != nil {
		return nil, err
	}

	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		for _, accountID := range accountIDs {
			account, err := s.directory.FindAccount(ctx, accountID)
			if err != nil {
				return fmt.Errorf("look up account %d: %w", accountID, err)
			}
			if account == nil {
				return fmt.Errorf("account %d does not exist: %w", accountID, ErrInvalidParameter)
			}
			if err := s.checker.CheckAccess(ctx, caller, 0, true, account); err != nil {
				return err
			}
			if err := st.Memberships.RemoveAccount(ctx, groupID, accountID); err != nil {
				return fmt.Errorf("unlink account %d from group %d: %w", accountID, groupID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeGroupAccountsRemoved,
		Description: "removing accounts from acl group",
		DomainID:    group.DomainID,
		ActorID:     caller.AccountID,
		Resource:    group.UUID,
		Metadata:    map[string]any{"account_ids": accountIDs},
	})
	return group, nil
}

// GrantEntityPermission upserts an allow grant of the access type on one
// concrete entity for the group. The entity kind must be registered and
// the entity itself must exist and be accessible to the caller at grant
// time.
func (s *Service) GrantEntityPermission(ctx context.Context, caller Caller, groupID int64, entityType string, entityID int64, access AccessType) (*Group, error) {
	group, entity, err := s.requireGroupAndEntity(ctx, caller, groupID, entityType, entityID)
	if err != nil {
		return nil, err
	}

	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		return st.Grants.Upsert(ctx, &EntityGrant{
			GroupID:    groupID,
			EntityType: entityType,
			EntityID:   entityID,
			EntityUUID: entity.EntityUUID(),
			AccessType: access,
			Allow:      true,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("grant %s on %s %d to group %d: %w", access, entityType, entityID, groupID, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeEntityPermGranted,
		Description: "granting entity permission to acl group",
		DomainID:    group.DomainID,
		ActorID:     caller.AccountID,
		Resource:    group.UUID,
		Metadata:    map[string]any{"entity_type": entityType, "entity_id": entityID, "access_type": access},
	})
	return group, nil
}

// RevokeEntityPermission removes a prior explicit grant. It never flips
// the row to a deny; revoking an absent grant is a no-op.
func (s *Service) RevokeEntityPermission(ctx context.Context, caller Caller, groupID int64, entityType string, entityID int64, access AccessType) (*Group, error) {
	group, _, err := s.requireGroupAndEntity(ctx, caller, groupID, entityType, entityID)
	if err != nil {
		return nil, err
	}

	err = s.db.Atomic(ctx, func(ctx context.Context, st Stores) error {
		return st.Grants.Delete(ctx, groupID, entityType, entityID, access)
	})
	if err != nil {
		return nil, fmt.Errorf("revoke %s on %s %d from group %d: %w", access, entityType, entityID, groupID, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeEntityPermRevoked,
		Description: "revoking entity permission from acl group",
		DomainID:    group.DomainID,
		ActorID:     caller.AccountID,
		Resource:    group.UUID,
		Metadata:    map[string]any{"entity_type": entityType, "entity_id": entityID, "access_type": access},
	})
	return group, nil
}

func (s *Service) requireRole(ctx context.Context, caller Caller, roleID int64) (*Role, error) {
	role, err := s.db.Stores().Roles.FindByID(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("look up role %d: %w", roleID, err)
	}
	if role == nil {
		return nil, fmt.Errorf("role %d does not exist: %w", roleID, ErrInvalidParameter)
	}
	if err := s.checker.CheckAccess(ctx, caller, 0, true, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Service) requireGroup(ctx context.Context, caller Caller, groupID int64) (*Group, error) {
	group, err := s.db.Stores().Groups.FindByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("look up group %d: %w", groupID, err)
	}
	if group == nil {
		return nil, fmt.Errorf("group %d does not exist: %w", groupID, ErrInvalidParameter)
	}
	if err := s.checker.CheckAccess(ctx, caller, 0, true, group); err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Service) requireGroupAndEntity(ctx context.Context, caller Caller, groupID int64, entityType string, entityID int64) (*Group, ControlledEntity, error) {
	group, err := s.requireGroup(ctx, caller, groupID)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := s.kinds.Lookup(entityType); !ok {
		return nil, nil, fmt.Errorf("entity type %q is not supported: %w", entityType, ErrInvalidParameter)
	}
	entity, err := s.finder.FindEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, nil, fmt.Errorf("look up %s %d: %w", entityType, entityID, err)
	}
	if entity == nil {
		return nil, nil, fmt.Errorf("%s %d does not exist: %w", entityType, entityID, ErrInvalidParameter)
	}
	if err := s.checker.CheckAccess(ctx, caller, 0, true, entity); err != nil {
		return nil, nil, err
	}
	return group, entity, nil
}
