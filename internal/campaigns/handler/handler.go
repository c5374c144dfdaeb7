// Package handler implements HTTP handlers for the campaigns module.
package handler

import (
	"net/http"

	"github.com/omnireach/core/internal/campaigns/repository"
	"github.com/omnireach/core/internal/campaigns/service"
	"github.com/omnireach/core/internal/campaigns/transport"
	"github.com/omnireach/core/platform/httpkit"
	"github.com/omnireach/core/platform/sanitize"
	"github.com/omnireach/core/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest    = "invalid request"
	msgInvalidCampaignID = "invalid campaign id"
)

// Handler handles HTTP requests for campaigns.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new campaigns handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the campaigns routes under the given group.
func (h *Handler) RegisterRoutes(campaigns *gin.RouterGroup) {
	campaigns.GET("", h.List)
	campaigns.POST("", h.Create)
	campaigns.POST("/preview-audience", h.PreviewAudience)
	campaigns.GET("/:id", h.Get)
	campaigns.POST("/:id/schedule", h.Schedule)
	campaigns.POST("/:id/cancel", h.Cancel)
	campaigns.PUT("/:id/roi", h.UpdateROI)
	campaigns.GET("/:id/sends", h.ListSends)
}

// Create handles POST /v1/campaigns.
func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	campaign, err := h.svc.Create(c.Request.Context(), identity.OrganizationID(), req.ChannelID,
		sanitize.Text(req.Name), req.MessageText, req.Segment)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toCampaignResponse(*campaign))
}

// List handles GET /v1/campaigns.
func (h *Handler) List(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	campaigns, err := h.svc.List(c.Request.Context(), identity.OrganizationID())
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]transport.CampaignResponse, len(campaigns))
	for i, campaign := range campaigns {
		resp[i] = toCampaignResponse(campaign)
	}
	httpkit.OK(c, gin.H{"campaigns": resp})
}

// Get handles GET /v1/campaigns/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidCampaignID, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	campaign, err := h.svc.GetByID(c.Request.Context(), id, identity.OrganizationID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toCampaignResponse(*campaign))
}

// PreviewAudience handles POST /v1/campaigns/preview-audience.
func (h *Handler) PreviewAudience(c *gin.Context) {
	var req transport.PreviewAudienceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	count, err := h.svc.PreviewAudience(c.Request.Context(), identity.OrganizationID(), req.Segment)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.PreviewAudienceResponse{Count: count})
}

// Schedule handles POST /v1/campaigns/:id/schedule.
func (h *Handler) Schedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidCampaignID, nil)
		return
	}

	var req transport.ScheduleCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := h.svc.ScheduleCampaign(c.Request.Context(), id, identity.OrganizationID(), req.ScheduleAt); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"scheduled": true})
}

// Cancel handles POST /v1/campaigns/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidCampaignID, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := h.svc.CancelCampaign(c.Request.Context(), id, identity.OrganizationID()); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"cancelled": true})
}

// UpdateROI handles PUT /v1/campaigns/:id/roi.
func (h *Handler) UpdateROI(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidCampaignID, nil)
		return
	}

	var req transport.UpdateROIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := h.svc.UpdateROI(c.Request.Context(), id, identity.OrganizationID(), req.CostCents, req.RevenueCents); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"updated": true})
}

// ListSends handles GET /v1/campaigns/:id/sends.
func (h *Handler) ListSends(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidCampaignID, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	// Ensure the campaign belongs to the caller's organization before
	// exposing its sends.
	if _, err := h.svc.GetByID(c.Request.Context(), id, identity.OrganizationID()); httpkit.HandleError(c, err) {
		return
	}

	sends, err := h.svc.ListSends(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	resp := make([]transport.CampaignSendResponse, len(sends))
	for i, send := range sends {
		resp[i] = toCampaignSendResponse(send)
	}
	httpkit.OK(c, gin.H{"sends": resp})
}

func toCampaignResponse(c repository.Campaign) transport.CampaignResponse {
	return transport.CampaignResponse{
		ID:           c.ID,
		ChannelID:    c.ChannelID,
		Name:         c.Name,
		MessageText:  c.MessageText,
		Segment:      c.Segment,
		ScheduleAt:   c.ScheduleAt,
		Status:       c.Status,
		CostCents:    c.CostCents,
		RevenueCents: c.RevenueCents,
		QueuedCount:  c.QueuedCount,
		SentCount:    c.SentCount,
		FailedCount:  c.FailedCount,
		SkippedCount: c.SkippedCount,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toCampaignSendResponse(s repository.CampaignSend) transport.CampaignSendResponse {
	return transport.CampaignSendResponse{
		ID:         s.ID,
		CampaignID: s.CampaignID,
		LeadID:     s.LeadID,
		MessageID:  s.MessageID,
		Status:     s.Status,
		Error:      s.Error,
	}
}
