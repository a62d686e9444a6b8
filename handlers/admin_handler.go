package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/middleware"
	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/utils"
)

// AdminService defines the principal operations exposed to admins
type AdminService interface {
	List(ctx context.Context, actor *models.Principal) ([]*models.Principal, error)
	Lookup(ctx context.Context, actor *models.Principal, id string) (*models.Principal, error)
	SetRole(ctx context.Context, actor *models.Principal, targetID string, role models.Role) error
	SetPermission(ctx context.Context, actor *models.Principal, targetID, section string, allowed bool) error
	AuditTrail(ctx context.Context, actor *models.Principal, targetID string, limit, offset int) ([]*models.AuditLog, error)
}

// SetRoleRequest is the body of PUT /admin/principals/{id}/role
type SetRoleRequest struct {
	Role string `json:"role" validate:"required,role"`
}

// SetPermissionRequest is the body of PUT /admin/principals/{id}/permissions/{section}
type SetPermissionRequest struct {
	Allowed *bool `json:"allowed" validate:"required"`
}

// RoleChangeResponse confirms a role change
type RoleChangeResponse struct {
	PrincipalID string      `json:"principal_id"`
	Role        models.Role `json:"role"`
}

// PermissionChangeResponse confirms a permission change
type PermissionChangeResponse struct {
	PrincipalID string `json:"principal_id"`
	Section     string `json:"section"`
	Allowed     bool   `json:"allowed"`
}

// ListPrincipalsResponse is the response body for GET /admin/principals
type ListPrincipalsResponse struct {
	Principals []*models.Principal `json:"principals"`
	Count      int                 `json:"count"`
}

// AuditTrailResponse is the response body for GET /admin/audit
type AuditTrailResponse struct {
	Entries []*models.AuditLog `json:"entries"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

// AdminHandler handles role and permission management
type AdminHandler struct {
	service AdminService
	logger  *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		service: service,
		logger:  logger,
	}
}

// HandleListPrincipals handles GET /api/v1/admin/principals
func (h *AdminHandler) HandleListPrincipals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetPrincipalFromContext(ctx)

	principals, err := h.service.List(ctx, actor)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, ListPrincipalsResponse{
		Principals: principals,
		Count:      len(principals),
	})
}

// HandleGetPrincipal handles GET /api/v1/admin/principals/{id}
func (h *AdminHandler) HandleGetPrincipal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetPrincipalFromContext(ctx)

	p, err := h.service.Lookup(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, p)
}

// HandleSetRole handles PUT /api/v1/admin/principals/{id}/role
func (h *AdminHandler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetPrincipalFromContext(ctx)
	targetID := chi.URLParam(r, "id")

	var req SetRoleRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	role := models.Role(req.Role)
	if err := h.service.SetRole(ctx, actor, targetID, role); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, RoleChangeResponse{PrincipalID: targetID, Role: role})
}

// HandleSetPermission handles PUT /api/v1/admin/principals/{id}/permissions/{section}
func (h *AdminHandler) HandleSetPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetPrincipalFromContext(ctx)
	targetID := chi.URLParam(r, "id")
	section := chi.URLParam(r, "section")

	if err := utils.ValidateVar(section, "section", "section_id"); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var req SetPermissionRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.service.SetPermission(ctx, actor, targetID, section, *req.Allowed); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, PermissionChangeResponse{
		PrincipalID: targetID,
		Section:     section,
		Allowed:     *req.Allowed,
	})
}

// HandleAuditTrail handles GET /api/v1/admin/audit
// Query: principal_id (optional), limit, offset
func (h *AdminHandler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetPrincipalFromContext(ctx)
	query := r.URL.Query()

	limit, err := intParam(query.Get("limit"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid limit", map[string]interface{}{"limit": query.Get("limit")})
		return
	}
	offset, err := intParam(query.Get("offset"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid offset", map[string]interface{}{"offset": query.Get("offset")})
		return
	}

	entries, err := h.service.AuditTrail(ctx, actor, query.Get("principal_id"), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, AuditTrailResponse{
		Entries: entries,
		Limit:   limit,
		Offset:  offset,
	})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
