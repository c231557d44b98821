package acl

import (
	"context"
	"errors"
	"time"
)

// Error kinds surfaced by the core. Callers classify with errors.Is; the
// transport layer owns recovery policy.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrPermissionDenied = errors.New("permission denied")
)

// Caller is the already-authenticated principal on whose behalf an
// operation runs. Authentication happens upstream; the core only ever
// sees the resolved account and its domain.
type Caller struct {
	AccountID int64
	DomainID  int64
}

// Account types as recorded by the platform directory.
const (
	AccountTypeNormal      = "normal"
	AccountTypeDomainAdmin = "domain_admin"
	AccountTypeRootAdmin   = "root_admin"
)

// Account is a tenant-level identity that owns resources and receives
// permissions through group membership.
type Account struct {
	ID       int64
	UUID     string
	Name     string
	DomainID int64
	Type     string
}

// Role is a named, domain-scoped bundle of API-level and policy-level
// permissions.
type Role struct {
	ID          int64
	UUID        string
	Name        string
	DomainID    int64
	Description string
	CreatedAt   time.Time
}

// Group is a named, domain-scoped bundle linking accounts to roles.
type Group struct {
	ID          int64
	UUID        string
	Name        string
	DomainID    int64
	Description string
	CreatedAt   time.Time
}

// ApiPermission allows one named API for a role. Presence is the grant;
// there is no API-level deny row.
type ApiPermission struct {
	ID      int64
	RoleID  int64
	APIName string
}

// PolicyPermission grants an access type on an entity kind at a scope.
type PolicyPermission struct {
	ID         int64
	RoleID     int64
	EntityType string
	AccessType AccessType
	Scope      Scope
	Allow      bool
}

// EntityGrant is an explicit allow or deny of an access type on one
// concrete entity, attached to a group. Allow and deny are both
// first-class rows, not the absence of a row.
type EntityGrant struct {
	ID         int64
	GroupID    int64
	EntityType string
	EntityID   int64
	EntityUUID string
	AccessType AccessType
	Allow      bool
}

// ControlledEntity is anything the platform access-checks: a resource, a
// role, a group, or an account.
type ControlledEntity interface {
	EntityID() int64
	EntityUUID() string
	OwnerAccountID() int64
	EntityDomainID() int64
}

func (r *Role) EntityID() int64       { return r.ID }
func (r *Role) EntityUUID() string    { return r.UUID }
func (r *Role) OwnerAccountID() int64 { return 0 }
func (r *Role) EntityDomainID() int64 { return r.DomainID }

func (g *Group) EntityID() int64       { return g.ID }
func (g *Group) EntityUUID() string    { return g.UUID }
func (g *Group) OwnerAccountID() int64 { return 0 }
func (g *Group) EntityDomainID() int64 { return g.DomainID }

func (a *Account) EntityID() int64       { return a.ID }
func (a *Account) EntityUUID() string    { return a.UUID }
func (a *Account) OwnerAccountID() int64 { return a.ID }
func (a *Account) EntityDomainID() int64 { return a.DomainID }

// Directory resolves account ids against the platform directory. The
// directory itself (domain and account lifecycle) is managed elsewhere.
type Directory interface {
	// FindAccount returns nil when the account does not exist.
	FindAccount(ctx context.Context, id int64) (*Account, error)
}

// AccessChecker decides whether a caller may operate on a subject.
// domainOverride, when non-zero, replaces the subject's own domain for
// the check. Implementations return an ErrPermissionDenied wrap on
// refusal.
type AccessChecker interface {
	IsRootAdmin(ctx context.Context, accountID int64) (bool, error)
	CheckAccess(ctx context.Context, caller Caller, domainOverride int64, mustBeAdmin bool, subject ControlledEntity) error
}

// EntityFinder resolves a registered entity kind tag and id to a concrete
// entity. Returns nil when the entity does not exist.
type EntityFinder interface {
	FindEntity(ctx context.Context, tag string, id int64) (ControlledEntity, error)
}
