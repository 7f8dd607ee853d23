// Package handlers contains the gin HTTP handlers for the admission API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/aegis/internal/application/dto"
	appservice "github.com/turtacn/aegis/internal/application/service"
	"github.com/turtacn/aegis/internal/domain/models"
	domainService "github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/internal/interfaces/http/middleware"
	"github.com/turtacn/aegis/pkg/errors"
)

// AdmissionHandler serves the admission, quota and entitlement endpoints.
type AdmissionHandler struct {
	admission   appservice.AdmissionService
	quota       domainService.QuotaService
	entitlement domainService.EntitlementService
}

// NewAdmissionHandler creates a new AdmissionHandler.
func NewAdmissionHandler(
	admission appservice.AdmissionService,
	quota domainService.QuotaService,
	entitlement domainService.EntitlementService,
) *AdmissionHandler {
	return &AdmissionHandler{
		admission:   admission,
		quota:       quota,
		entitlement: entitlement,
	}
}

// sendError maps an error onto its HTTP status and JSON shape.
func sendError(c *gin.Context, err error) {
	if appErr, ok := errors.AsAppError(err); ok {
		c.JSON(appErr.HTTPStatus(), errors.ToErrorResponse(appErr))
		return
	}
	c.JSON(http.StatusInternalServerError, errors.ToGenericErrorResponse(err))
}

// CheckAdmission handles POST /v1/admission/check.
func (h *AdmissionHandler) CheckAdmission(c *gin.Context) {
	var req dto.AdmissionCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, errors.ErrInvalidRequest("request body is malformed").WithCause(err))
		return
	}

	class, ok := dto.ParseActionClass(req.ActionClass)
	if !ok {
		sendError(c, errors.ErrInvalidRequest("action_class must be auth or metered"))
		return
	}

	actor := middleware.ActorFromContext(c)
	decision, err := h.admission.CheckAdmission(c.Request.Context(), actor, class, req.Module)
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromDecision(decision))
}

// ConfirmUsage handles POST /v1/admission/confirm. Called after a metered
// action actually succeeded; a failed action never reaches here, so failures
// cost nothing.
func (h *AdmissionHandler) ConfirmUsage(c *gin.Context) {
	var req dto.ConfirmUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		sendError(c, errors.ErrInvalidRequest("request body is malformed").WithCause(err))
		return
	}

	actor := middleware.ActorFromContext(c)
	consumed, quota, err := h.admission.ConfirmUsage(c.Request.Context(), actor)
	if err != nil {
		sendError(c, err)
		return
	}

	resp := dto.ConfirmUsageResponse{Consumed: consumed}
	if quota != nil {
		resp.FreeUsesRemaining = quota.FreeUsesRemaining
	}
	c.JSON(http.StatusOK, resp)
}

// ReportAuthAttempt handles POST /v1/auth/attempts. The caller is the
// authentication service itself, reporting one attempt's outcome so the
// failure limiter can count or reset.
func (h *AdmissionHandler) ReportAuthAttempt(c *gin.Context) {
	var req dto.AuthAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, errors.ErrInvalidRequest("key is required").WithCause(err))
		return
	}

	h.admission.ReportAuthResult(c.Request.Context(), req.Key, req.Success)
	c.Status(http.StatusNoContent)
}

// GetQuota handles GET /v1/actors/:actor_id/quota.
func (h *AdmissionHandler) GetQuota(c *gin.Context) {
	actorID := c.Param("actor_id")

	status, err := h.quota.GetStatus(c.Request.Context(), actorID)
	if status == nil && err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.QuotaStatusResponse{
		ActorID:               status.Quota.ActorID,
		FreeUsesRemaining:     status.Quota.FreeUsesRemaining,
		TotalFreeUses:         status.Quota.TotalFreeUses,
		HasActiveSubscription: status.Quota.HasActiveSubscription,
		Degraded:              status.Degraded,
	})
}

// GetEntitlements handles GET /v1/actors/:actor_id/entitlements. A degraded
// resolution still answers with the last-known view, flagged as such.
func (h *AdmissionHandler) GetEntitlements(c *gin.Context) {
	actorID := c.Param("actor_id")

	resolved, err := h.entitlement.Resolve(c.Request.Context(), models.NewAccountActor(actorID))
	if resolved == nil && err != nil {
		sendError(c, err)
		return
	}

	resp := dto.FromEntitlements(resolved)
	resp.Degraded = err != nil
	c.JSON(http.StatusOK, resp)
}

// RefreshEntitlements handles POST /v1/actors/:actor_id/entitlements/refresh.
func (h *AdmissionHandler) RefreshEntitlements(c *gin.Context) {
	actorID := c.Param("actor_id")

	if err := h.entitlement.ForceRefresh(c.Request.Context(), actorID); err != nil {
		sendError(c, err)
		return
	}

	resolved, err := h.entitlement.Resolve(c.Request.Context(), models.NewAccountActor(actorID))
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromEntitlements(resolved))
}
