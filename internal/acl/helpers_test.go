package acl_test

import (
	"context"
	"testing"

	"github.com/cloudfence/cloudfence/internal/acl"
	"github.com/cloudfence/cloudfence/internal/audit"
	"github.com/cloudfence/cloudfence/internal/store/memory"
)

const rootDomainID = int64(1)

// fakeDirectory implements acl.Directory over a map.
type fakeDirectory struct {
	accounts map[int64]*acl.Account
}

func (d *fakeDirectory) FindAccount(ctx context.Context, id int64) (*acl.Account, error) {
	return d.accounts[id], nil
}

func (d *fakeDirectory) add(account *acl.Account) {
	d.accounts[account.ID] = account
}

// testEntity implements acl.ControlledEntity.
type testEntity struct {
	id     int64
	uuid   string
	owner  int64
	domain int64
}

func (e *testEntity) EntityID() int64       { return e.id }
func (e *testEntity) EntityUUID() string    { return e.uuid }
func (e *testEntity) OwnerAccountID() int64 { return e.owner }
func (e *testEntity) EntityDomainID() int64 { return e.domain }

// fakeFinder implements acl.EntityFinder over nested maps.
type fakeFinder struct {
	entities map[string]map[int64]acl.ControlledEntity
}

func (f *fakeFinder) FindEntity(ctx context.Context, tag string, id int64) (acl.ControlledEntity, error) {
	byID, ok := f.entities[tag]
	if !ok {
		return nil, nil
	}
	entity, ok := byID[id]
	if !ok {
		return nil, nil
	}
	return entity, nil
}

func (f *fakeFinder) add(tag string, entity acl.ControlledEntity) {
	if f.entities[tag] == nil {
		f.entities[tag] = make(map[int64]acl.ControlledEntity)
	}
	f.entities[tag][entity.EntityID()] = entity
}

// recordingAudit captures emitted audit events.
type recordingAudit struct {
	events []audit.Event
}

func (a *recordingAudit) Log(ctx context.Context, event audit.Event) {
	a.events = append(a.events, event)
}

type fixture struct {
	db        *memory.DB
	service   *acl.Service
	resolver  *acl.Resolver
	directory *fakeDirectory
	finder    *fakeFinder
	audit     *recordingAudit

	rootCaller acl.Caller
}

// newFixture wires the service and resolver over the in-memory store
// with a root admin (account 100, root domain) already present.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.New()
	directory := &fakeDirectory{accounts: make(map[int64]*acl.Account)}
	finder := &fakeFinder{entities: make(map[string]map[int64]acl.ControlledEntity)}
	recorder := &recordingAudit{}
	checker := acl.NewDomainChecker(directory)
	service := acl.NewService(db, directory, checker, finder, acl.DefaultEntityKinds(), recorder)
	resolver := acl.NewResolver(db, rootDomainID)

	directory.add(&acl.Account{ID: 100, UUID: "root-admin", Name: "admin", DomainID: rootDomainID, Type: acl.AccountTypeRootAdmin})

	return &fixture{
		db:         db,
		service:    service,
		resolver:   resolver,
		directory:  directory,
		finder:     finder,
		audit:      recorder,
		rootCaller: acl.Caller{AccountID: 100, DomainID: rootDomainID},
	}
}
