// Package handler implements HTTP handlers for the crm module.
package handler

import (
	"net/http"

	"github.com/omnireach/core/internal/crm/service"
	"github.com/omnireach/core/internal/crm/transport"
	"github.com/omnireach/core/platform/httpkit"
	"github.com/omnireach/core/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest = "invalid request"
	msgInvalidID      = "invalid id"
)

// Handler handles HTTP requests for crm mapping configuration.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new crm handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the crm routes under the given group.
func (h *Handler) RegisterRoutes(crm *gin.RouterGroup) {
	crm.GET("/mapping", h.GetMapping)
	crm.PUT("/mapping", h.PutMapping)
	crm.POST("/mapping/preview", h.PreviewMapping)
	crm.POST("/mapping/validate", h.ValidateMapping)
	crm.POST("/leads/:id", h.SyncLead)
	crm.POST("/revenue", h.RecordRevenue)
}

// GetMapping handles GET /v1/crm/mapping.
func (h *Handler) GetMapping(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	mapping, err := h.svc.GetMapping(c.Request.Context(), identity.OrganizationID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.MappingResponse{WebhookURL: mapping.WebhookURL, FieldMapping: mapping.FieldMapping, UpdatedAt: mapping.UpdatedAt})
}

// PutMapping handles PUT /v1/crm/mapping.
func (h *Handler) PutMapping(c *gin.Context) {
	var req transport.PutMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	mapping, err := h.svc.PutMapping(c.Request.Context(), identity.OrganizationID(), req.WebhookURL, req.FieldMapping)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.MappingResponse{WebhookURL: mapping.WebhookURL, FieldMapping: mapping.FieldMapping, UpdatedAt: mapping.UpdatedAt})
}

// PreviewMapping handles POST /v1/crm/mapping/preview.
func (h *Handler) PreviewMapping(c *gin.Context) {
	var req transport.PreviewMappingRequest
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

	result, err := h.svc.PreviewMapping(c.Request.Context(), identity.OrganizationID(), req.Sample)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.PreviewMappingResponse{Result: result})
}

// ValidateMapping handles POST /v1/crm/mapping/validate.
func (h *Handler) ValidateMapping(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := h.svc.ValidateMapping(c.Request.Context(), identity.OrganizationID()); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"valid": true})
}

// SyncLead handles POST /v1/crm/leads/:id, pushing a lead's current
// CRM-relevant fields to the organization's configured webhook.
func (h *Handler) SyncLead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := h.svc.DeliverLeadSync(c.Request.Context(), identity.OrganizationID(), id); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"synced": true})
}

// RecordRevenue handles POST /v1/crm/revenue.
func (h *Handler) RecordRevenue(c *gin.Context) {
	var req transport.RevenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := h.svc.RecordRevenue(c.Request.Context(), identity.OrganizationID(), req.Data); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"recorded": true})
}
