package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudfence/cloudfence/internal/acl"
	"github.com/cloudfence/cloudfence/internal/audit"
	"github.com/cloudfence/cloudfence/internal/store/memory"
	transporthttp "github.com/cloudfence/cloudfence/internal/transport/http"
)

const rootDomainID = int64(1)

type stubDirectory struct {
	accounts map[int64]*acl.Account
}

func (d *stubDirectory) FindAccount(ctx context.Context, id int64) (*acl.Account, error) {
	return d.accounts[id], nil
}

type stubEntity struct {
	id       int64
	uuid     string
	ownerID  int64
	domainID int64
}

func (e stubEntity) EntityID() int64       { return e.id }
func (e stubEntity) EntityUUID() string    { return e.uuid }
func (e stubEntity) OwnerAccountID() int64 { return e.ownerID }
func (e stubEntity) EntityDomainID() int64 { return e.domainID }

type stubFinder struct {
	entities map[string]map[int64]acl.ControlledEntity
}

func (f *stubFinder) FindEntity(ctx context.Context, entityType string, id int64) (acl.ControlledEntity, error) {
	byID, ok := f.entities[entityType]
	if !ok {
		return nil, nil
	}
	entity, ok := byID[id]
	if !ok {
		return nil, nil
	}
	return entity, nil
}

type testServer struct {
	server    *httptest.Server
	db        *memory.DB
	directory *stubDirectory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := memory.New()
	directory := &stubDirectory{accounts: map[int64]*acl.Account{
		100: {ID: 100, UUID: "root-uuid", DomainID: rootDomainID, Type: acl.AccountTypeRootAdmin},
		200: {ID: 200, UUID: "user-uuid", DomainID: rootDomainID, Type: acl.AccountTypeNormal},
	}}
	finder := &stubFinder{entities: map[string]map[int64]acl.ControlledEntity{
		"VirtualMachine": {
			55: stubEntity{id: 55, uuid: "vm-55", ownerID: 200, domainID: rootDomainID},
		},
	}}

	checker := acl.NewDomainChecker(directory)
	service := acl.NewService(db, directory, checker, finder, acl.DefaultEntityKinds(), audit.NewSlogLogger())
	resolver := acl.NewResolver(db, rootDomainID)

	handler := transporthttp.NewHandler(service, resolver, directory, audit.NewSlogLogger(), nil, nil)
	router := transporthttp.NewRouter(handler, transporthttp.NewRateLimiter(1000, 1000))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{server: srv, db: db, directory: directory}
}

func bearerToken(t *testing.T, accountID int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_id": accountID,
	})
	signed, err := token.SignedString([]byte("gateway-test-key"))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (ts *testServer) do(t *testing.T, method, path, auth string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.server.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/roles", "", map[string]any{"name": "ops"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownAccountRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/roles", bearerToken(t, 9999), map[string]any{"name": "ops"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndDeleteRole(t *testing.T) {
	ts := newTestServer(t)
	auth := bearerToken(t, 100)

	resp := ts.do(t, http.MethodPost, "/v1/roles", auth, map[string]any{
		"name":        "operator",
		"description": "day-2 operations",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "operator", body["name"])
	assert.NotEmpty(t, body["uuid"])
	roleID := int64(body["id"].(float64))

	// Duplicate name in the same domain is rejected.
	resp = ts.do(t, http.MethodPost, "/v1/roles", auth, map[string]any{"name": "operator"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/v1/roles/%d", roleID), auth, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Second delete finds nothing.
	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/v1/roles/%d", roleID), auth, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIPermissionFlow(t *testing.T) {
	ts := newTestServer(t)
	auth := bearerToken(t, 100)

	resp := ts.do(t, http.MethodPost, "/v1/roles", auth, map[string]any{"name": "vm-admin"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roleID := int64(decodeBody(t, resp)["id"].(float64))

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/roles/%d/api-permissions", roleID), auth, map[string]any{
		"api_names": []string{"deployVirtualMachine", "stopVirtualMachine"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Group wiring so the account resolves the role.
	resp = ts.do(t, http.MethodPost, "/v1/groups", auth, map[string]any{"name": "vm-admins"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	groupID := int64(decodeBody(t, resp)["id"].(float64))

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/groups/%d/roles", groupID), auth, map[string]any{
		"role_ids": []int64{roleID},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/groups/%d/accounts", groupID), auth, map[string]any{
		"account_ids": []int64{200},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/check/api", auth, map[string]any{
		"account_id": 200,
		"api_name":   "deployVirtualMachine",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["accessible"])

	resp = ts.do(t, http.MethodPost, "/v1/check/api", auth, map[string]any{
		"account_id": 200,
		"api_name":   "destroyVirtualMachine",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["accessible"])

	// Revoke flips the decision back.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/roles/%d/api-permissions/revoke", roleID), auth, map[string]any{
		"api_names": []string{"deployVirtualMachine"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/check/api", auth, map[string]any{
		"account_id": 200,
		"api_name":   "deployVirtualMachine",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["accessible"])
}

func TestEntityPermissionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	auth := bearerToken(t, 100)

	resp := ts.do(t, http.MethodPost, "/v1/groups", auth, map[string]any{"name": "vm-viewers"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	groupID := int64(decodeBody(t, resp)["id"].(float64))

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/groups/%d/accounts", groupID), auth, map[string]any{
		"account_ids": []int64{200},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/groups/%d/entity-permissions", groupID), auth, map[string]any{
		"entity_type": "VirtualMachine",
		"entity_id":   55,
		"access_type": "use",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet,
		"/v1/accounts/200/entity-permissions?entity_type=VirtualMachine&access_type=use", auth, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, []any{float64(55)}, body["allowed_ids"])
	assert.Empty(t, body["denied_ids"])

	// Unregistered kinds are rejected.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/groups/%d/entity-permissions", groupID), auth, map[string]any{
		"entity_type": "LoadBalancer",
		"entity_id":   55,
		"access_type": "use",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPolicyPermissionNotFound(t *testing.T) {
	ts := newTestServer(t)
	auth := bearerToken(t, 100)

	resp := ts.do(t, http.MethodGet,
		"/v1/accounts/200/policy-permission?entity_type=Volume&access_type=read", auth, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNormalCallerCannotDeleteRole(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/roles", bearerToken(t, 100), map[string]any{"name": "protected"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roleID := int64(decodeBody(t, resp)["id"].(float64))

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/v1/roles/%d", roleID), bearerToken(t, 200), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
