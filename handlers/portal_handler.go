package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/internal/access"
	"github.com/pel/esocialize-portal/middleware"
	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/services"
	"github.com/pel/esocialize-portal/utils"
)

// DecisionRecorder counts section access decisions
type DecisionRecorder interface {
	RecordDecision(section string, allowed bool)
}

// MeResponse is the response body for GET /api/v1/me
type MeResponse struct {
	Principal *models.Principal    `json:"principal"`
	State     access.VisitorState  `json:"state"`
	Sections  []access.SectionView `json:"sections"`
	Degraded  bool                 `json:"degraded"`
}

// PortalHandler serves the visitor-facing endpoints
type PortalHandler struct {
	decisions DecisionRecorder
	logger    *zap.Logger
}

// NewPortalHandler creates a new PortalHandler. decisions may be nil.
func NewPortalHandler(decisions DecisionRecorder, logger *zap.Logger) *PortalHandler {
	return &PortalHandler{
		decisions: decisions,
		logger:    logger,
	}
}

// HandleSections handles GET /api/v1/sections
func (h *PortalHandler) HandleSections(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, models.Catalog)
}

// HandleMe handles GET /api/v1/me
// Classifies the visitor once and checks every catalog section.
func (h *PortalHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := middleware.GetPrincipalFromContext(ctx)

	sections := access.VisibleSections(p, models.Catalog)
	if p != nil {
		for _, s := range sections {
			h.record(s.ID, s.Allowed)
		}
	}

	response := MeResponse{
		Principal: p,
		State:     access.Classify(p),
		Sections:  sections,
		Degraded:  middleware.IsDegraded(ctx),
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write me response", zap.Error(err))
	}
}

// HandleSection handles GET /api/v1/portal/{section}
func (h *PortalHandler) HandleSection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := middleware.GetPrincipalFromContext(ctx)
	sectionID := chi.URLParam(r, "section")

	state := access.Classify(p)
	if state == access.Anonymous {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	section, ok := models.LookupSection(sectionID)
	if !ok {
		HandleServiceError(w, services.ErrSectionNotFound.With("section", sectionID), h.logger)
		return
	}

	// A degraded snapshot is always pending, which would misreport the account state.
	if middleware.IsDegraded(ctx) {
		_ = utils.WriteServiceUnavailable(w, "Access could not be verified", nil)
		return
	}

	if state == access.Pending {
		h.record(section.ID, false)
		HandleServiceError(w, services.ErrPendingApproval.With("section", section.ID), h.logger)
		return
	}

	allowed := access.CanAccess(p, section.ID)
	h.record(section.ID, allowed)
	if !allowed {
		h.logger.Debug("section denied",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.String("principal_id", p.ID),
			zap.String("section", section.ID))
		HandleServiceError(w, services.ErrSectionDenied.With("section", section.ID), h.logger)
		return
	}

	_ = utils.WriteOK(w, access.SectionView{Section: section, Allowed: true})
}

func (h *PortalHandler) record(section string, allowed bool) {
	if h.decisions != nil {
		h.decisions.RecordDecision(section, allowed)
	}
}
