// Package handler implements HTTP handlers for the journeys module.
package handler

import (
	"net/http"

	"github.com/omnireach/core/internal/journeys/repository"
	"github.com/omnireach/core/internal/journeys/service"
	"github.com/omnireach/core/internal/journeys/transport"
	"github.com/omnireach/core/platform/httpkit"
	"github.com/omnireach/core/platform/sanitize"
	"github.com/omnireach/core/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgInvalidJourneyID = "invalid journey id"
)

// Handler handles HTTP requests for journeys.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new journeys handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the journeys routes under the given group.
func (h *Handler) RegisterRoutes(journeys *gin.RouterGroup) {
	journeys.GET("", h.List)
	journeys.POST("", h.Create)
	journeys.GET("/:id", h.Get)
	journeys.POST("/:id/activate", h.Activate)
	journeys.POST("/:id/pause", h.Pause)
	journeys.POST("/:id/archive", h.Archive)
	journeys.GET("/:id/runs", h.ListRuns)
	journeys.POST("/runs/:runId/cancel", h.CancelRun)
}

// Create handles POST /v1/journeys.
func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateJourneyRequest
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

	journey, err := h.svc.Create(c.Request.Context(), identity.OrganizationID(), sanitize.Text(req.Name), req.Triggers, req.Nodes, req.Edges)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toJourneyResponse(*journey))
}

// List handles GET /v1/journeys.
func (h *Handler) List(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	journeys, err := h.svc.List(c.Request.Context(), identity.OrganizationID())
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]transport.JourneyResponse, len(journeys))
	for i, journey := range journeys {
		resp[i] = toJourneyResponse(journey)
	}
	httpkit.OK(c, gin.H{"journeys": resp})
}

// Get handles GET /v1/journeys/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidJourneyID, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	journey, err := h.svc.GetByID(c.Request.Context(), id, identity.OrganizationID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toJourneyResponse(*journey))
}

// Activate handles POST /v1/journeys/:id/activate.
func (h *Handler) Activate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidJourneyID, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := h.svc.Activate(c.Request.Context(), id, identity.OrganizationID()); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"activated": true})
}

// Pause handles POST /v1/journeys/:id/pause.
func (h *Handler) Pause(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidJourneyID, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := h.svc.Pause(c.Request.Context(), id, identity.OrganizationID()); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"paused": true})
}

// Archive handles POST /v1/journeys/:id/archive.
func (h *Handler) Archive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidJourneyID, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := h.svc.Archive(c.Request.Context(), id, identity.OrganizationID()); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"archived": true})
}

// ListRuns handles GET /v1/journeys/:id/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidJourneyID, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	// Ensure the journey belongs to the caller's organization before
	// exposing its runs.
	if _, err := h.svc.GetByID(c.Request.Context(), id, identity.OrganizationID()); httpkit.HandleError(c, err) {
		return
	}

	runs, err := h.svc.ListRuns(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	resp := make([]transport.JourneyRunResponse, len(runs))
	for i, run := range runs {
		resp[i] = toJourneyRunResponse(run)
	}
	httpkit.OK(c, gin.H{"runs": resp})
}

// CancelRun handles POST /v1/journeys/runs/:runId/cancel.
func (h *Handler) CancelRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid run id", nil)
		return
	}

	if err := h.svc.CancelRun(c.Request.Context(), id); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"cancelled": true})
}

func toJourneyResponse(j repository.Journey) transport.JourneyResponse {
	return transport.JourneyResponse{
		ID:        j.ID,
		Name:      j.Name,
		Status:    j.Status,
		Triggers:  j.Triggers,
		Nodes:     j.Nodes,
		Edges:     j.Edges,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func toJourneyRunResponse(r repository.Run) transport.JourneyRunResponse {
	return transport.JourneyRunResponse{
		ID:             r.ID,
		JourneyID:      r.JourneyID,
		LeadID:         r.LeadID,
		ConversationID: r.ConversationID,
		TriggerType:    r.TriggerType,
		Status:         r.Status,
		CurrentNodeID:  r.CurrentNodeID,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}
}
