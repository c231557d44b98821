package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cloudfence/cloudfence/internal/acl"
	"github.com/cloudfence/cloudfence/internal/audit"
	"github.com/cloudfence/cloudfence/internal/observability/logger"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	service     *acl.Service
	resolver    *acl.Resolver
	directory   acl.Directory
	auditLogger audit.Logger
	validate    *validator.Validate

	decisions metric.Int64Counter
	mutations metric.Int64Counter
}

// NewHandler creates a new HTTP handler
func NewHandler(
	service *acl.Service,
	resolver *acl.Resolver,
	directory acl.Directory,
	auditLogger audit.Logger,
	decisions metric.Int64Counter,
	mutations metric.Int64Counter,
) *Handler {
	return &Handler{
		service:     service,
		resolver:    resolver,
		directory:   directory,
		auditLogger: auditLogger,
		validate:    validator.New(),
		decisions:   decisions,
		mutations:   mutations,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.PrincipalMiddleware)

		r.Route("/roles", func(r chi.Router) {
			r.Post("/", h.CreateRole)
			r.Delete("/{roleID}", h.DeleteRole)
			r.Post("/{roleID}/api-permissions", h.GrantAPIPermissions)
			r.Post("/{roleID}/api-permissions/revoke", h.RevokeAPIPermissions)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.CreateGroup)
			r.Delete("/{groupID}", h.DeleteGroup)
			r.Post("/{groupID}/roles", h.AddRolesToGroup)
			r.Post("/{groupID}/roles/remove", h.RemoveRolesFromGroup)
			r.Post("/{groupID}/accounts", h.AddAccountsToGroup)
			r.Post("/{groupID}/accounts/remove", h.RemoveAccountsFromGroup)
			r.Post("/{groupID}/entity-permissions", h.GrantEntityPermission)
			r.Post("/{groupID}/entity-permissions/revoke", h.RevokeEntityPermission)
		})

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/roles", h.ListAccountRoles)
			r.Get("/groups", h.ListAccountGroups)
			r.Get("/entity-permissions", h.EntityPermissionSets)
			r.Get("/policy-permission", h.BestPolicyPermission)
		})

		r.Post("/check/api", h.CheckAPIAccess)
	})

	return r
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type roleResponse struct {
	ID          int64  `json:"id"`
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	DomainID    int64  `json:"domain_id"`
	Description string `json:"description,omitempty"`
}

func toRoleResponse(role *acl.Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		UUID:        role.UUID,
		Name:        role.Name,
		DomainID:    role.DomainID,
		Description: role.Description,
	}
}

type groupResponse struct {
	ID          int64  `json:"id"`
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	DomainID    int64  `json:"domain_id"`
	Description string `json:"description,omitempty"`
}

func toGroupResponse(group *acl.Group) groupResponse {
	return groupResponse{
		ID:          group.ID,
		UUID:        group.UUID,
		Name:        group.Name,
		DomainID:    group.DomainID,
		Description: group.Description,
	}
}

type createRoleRequest struct {
	DomainID     int64  `json:"domain_id"`
	Name         string `json:"name" validate:"required"`
	Description  string `json:"description"`
	ParentRoleID *int64 `json:"parent_role_id"`
}

// CreateRole handles POST /v1/roles
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())

	role, err := h.service.CreateRole(r.Context(), caller, req.DomainID, req.Name, req.Description, req.ParentRoleID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordMutation(r, "create_role")
	respondJSON(w, http.StatusCreated, toRoleResponse(role))
}

// DeleteRole handles DELETE /v1/roles/{roleID}
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	caller, _ := CallerFromContext(r.Context())

	if err := h.service.DeleteRole(r.Context(), caller, roleID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordMutation(r, "delete_role")
	w.WriteHeader(http.StatusNoContent)
}

type apiPermissionsRequest struct {
	APINames []string `json:"api_names" validate:"required,min=1,dive,required"`
}

// GrantAPIPermissions handles POST /v1/roles/{roleID}/api-permissions
func (h *Handler) GrantAPIPermissions(w http.ResponseWriter, r *http.Request) {
	h.apiPermissions(w, r, h.service.GrantAPIPermissions, "grant_api_permissions")
}

// RevokeAPIPermissions handles POST /v1/roles/{roleID}/api-permissions/revoke
func (h *Handler) RevokeAPIPermissions(w http.ResponseWriter, r *http.Request) {
	h.apiPermissions(w, r, h.service.RevokeAPIPermissions, "revoke_api_permissions")
}

func (h *Handler) apiPermissions(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller acl.Caller, roleID int64, apiNames []string) (*acl.Role, error), name string) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req apiPermissionsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())

	role, err := op(r.Context(), caller, roleID, req.APINames)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordMutation(r, name)
	respondJSON(w, http.StatusOK, toRoleResponse(role))
}

type createGroupRequest struct {
	DomainID    int64  `json:"domain_id"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// CreateGroup handles POST /v1/groups
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())

	group, err := h.service.CreateGroup(r.Context(), caller, req.DomainID, req.Name, req.Description)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordMutation(r, "create_group")
	respondJSON(w, http.StatusCreated, toGroupResponse(group))
}

// DeleteGroup handles DELETE /v1/groups/{groupID}
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	caller, _ := CallerFromContext(r.Context())

	if err := h.service.DeleteGroup(r.Context(), caller, groupID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordMutation(r, "delete_group")
	w.WriteHeader(http.StatusNoContent)
}

type roleIDsRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"required,min=1"`
}

// AddRolesToGroup handles POST /v1/groups/{groupID}/roles
func (h *Handler) AddRolesToGroup(w http.ResponseWriter, r *http.Request) {
	h.groupRoles(w, r, h.service.AddRolesToGroup, "add_roles_to_group")
}

// RemoveRolesFromGroup handles POST /v1/groups/{groupID}/roles/remove
func (h *Handler) RemoveRolesFromGroup(w http.ResponseWriter, r *http.Request) {
	h.groupRoles(w, r, h.service.RemoveRolesFromGroup, "remove_roles_from_group")
}

func (h *Handler) groupRoles(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller acl.Caller, groupID int64, roleIDs []int64) (*acl.Group, error), name string) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	var req roleIDsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())

	group, err := op(r.Context(), caller, groupID, req.RoleIDs)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordMutation(r, name)
	respondJSON(w, http.StatusOK, toGroupResponse(group))
}

type accountIDsRequest struct {
	AccountIDs []int64 `json:"account_ids" validate:"required,min=1"`
}

// AddAccountsToGroup handles POST /v1/groups/{groupID}/accounts
func (h *Handler) AddAccountsToGroup(w http.ResponseWriter, r *http.Request) {
	h.groupAccounts(w, r, h.service.AddAccountsToGroup, "add_accounts_to_group")
}

// RemoveAccountsFromGroup handles POST /v1/groups/{groupID}/accounts/remove
func (h *Handler) RemoveAccountsFromGroup(w http.ResponseWriter, r *http.Request) {
	h.groupAccounts(w, r, h.service.RemoveAccountsFromGroup, "remove_accounts_from_group")
}

func (h *Handler) groupAccounts(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller acl.Caller, groupID int64, accountIDs []int64) (*acl.Group, error), name string) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	var req accountIDsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())

	group, err := op(r.Context(), caller, groupID, req.AccountIDs)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordMutation(r, name)
	respondJSON(w, http.StatusOK, toGroupResponse(group))
}

type entityPermissionRequest struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   int64  `json:"entity_id" validate:"required"`
	AccessType string `json:"access_type" validate:"required"`
}

// GrantEntityPermission handles POST /v1/groups/{groupID}/entity-permissions
func (h *Handler) GrantEntityPermission(w http.ResponseWriter, r *http.Request) {
	h.entityPermission(w, r, h.service.GrantEntityPermission, "grant_entity_permission")
}

// RevokeEntityPermission handles POST /v1/groups/{groupID}/entity-permissions/revoke
func (h *Handler) RevokeEntityPermission(w http.ResponseWriter, r *http.Request) {
	h.entityPermission(w, r, h.service.RevokeEntityPermission, "revoke_entity_permission")
}

func (h *Handler) entityPermission(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller acl.Caller, groupID int64, entityType string, entityID int64, access acl.AccessType) (*acl.Group, error), name string) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	var req entityPermissionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	access, err := acl.ParseAccessType(req.AccessType)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := CallerFromContext(r.Context())

	group, err := op(r.Context(), caller, groupID, req.EntityType, req.EntityID, access)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordMutation(r, name)
	respondJSON(w, http.StatusOK, toGroupResponse(group))
}

// ListAccountRoles handles GET /v1/accounts/{accountID}/roles
func (h *Handler) ListAccountRoles(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	roles, err := h.resolver.StaticRoles(r.Context(), accountID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	respondJSON(w, http.StatusOK, map[string]any{"roles": out})
}

// ListAccountGroups handles GET /v1/accounts/{accountID}/groups
func (h *Handler) ListAccountGroups(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	groups, err := h.resolver.GroupsOf(r.Context(), accountID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	out := make([]groupResponse, 0, len(groups))
	for _, group := range groups {
		out = append(out, toGroupResponse(group))
	}
	respondJSON(w, http.StatusOK, map[string]any{"groups": out})
}

// EntityPermissionSets handles GET /v1/accounts/{accountID}/entity-permissions
func (h *Handler) EntityPermissionSets(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	entityType := r.URL.Query().Get("entity_type")
	access, err := acl.ParseAccessType(r.URL.Query().Get("access_type"))
	if entityType == "" || err != nil {
		respondError(w, http.StatusBadRequest, "entity_type and access_type query parameters are required")
		return
	}
	allowed, denied, err := h.resolver.EntityPermissionSets(r.Context(), accountID, entityType, access)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	// An id can appear in both sets when groups disagree; the response
	// keeps both sides and leaves precedence to the consumer.
	respondJSON(w, http.StatusOK, map[string]any{
		"allowed_ids": allowed,
		"denied_ids":  denied,
	})
}

// BestPolicyPermission handles GET /v1/accounts/{accountID}/policy-permission
func (h *Handler) BestPolicyPermission(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	entityType := r.URL.Query().Get("entity_type")
	access, err := acl.ParseAccessType(r.URL.Query().Get("access_type"))
	if entityType == "" || err != nil {
		respondError(w, http.StatusBadRequest, "entity_type and access_type query parameters are required")
		return
	}
	perm, err := h.resolver.BestPolicyPermission(r.Context(), accountID, entityType, access)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if perm == nil {
		respondError(w, http.StatusNotFound, "no matching policy permission")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"role_id":     perm.RoleID,
		"entity_type": perm.EntityType,
		"access_type": perm.AccessType,
		"scope":       perm.Scope.String(),
		"allow":       perm.Allow,
	})
}

type checkAPIRequest struct {
	AccountID int64  `json:"account_id" validate:"required"`
	APIName   string `json:"api_name" validate:"required"`
}

// CheckAPIAccess handles POST /v1/check/api
func (h *Handler) CheckAPIAccess(w http.ResponseWriter, r *http.Request) {
	var req checkAPIRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	roles, err := h.resolver.StaticRoles(r.Context(), req.AccountID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	accessible, err := h.resolver.APIAccessible(r.Context(), req.APIName, roles)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if h.decisions != nil {
		h.decisions.Add(r.Context(), 1,
			metric.WithAttributes(attribute.Bool("accessible", accessible)))
	}
	respondJSON(w, http.StatusOK, map[string]any{"accessible": accessible})
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, acl.ErrInvalidParameter):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, acl.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, acl.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		slog.ErrorContext(r.Context(), "internal error", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) recordMutation(r *http.Request, operation string) {
	if h.mutations == nil {
		return
	}
	h.mutations.Add(r.Context(), 1,
		metric.WithAttributes(attribute.String("operation", operation)))
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
