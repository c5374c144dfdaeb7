// Package handler implements HTTP handlers for the channels module.
package handler

import (
	"net/http"

	"github.com/omnireach/core/internal/channels/repository"
	"github.com/omnireach/core/internal/channels/service"
	"github.com/omnireach/core/internal/channels/transport"
	"github.com/omnireach/core/platform/httpkit"
	"github.com/omnireach/core/platform/validator"

	"github.com/gin-gonic/gin"
)

const msgInvalidRequest = "invalid request"

// Handler handles HTTP requests for channels.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new channels handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the channels routes under the given group.
func (h *Handler) RegisterRoutes(channels *gin.RouterGroup) {
	channels.POST("", h.Create)
	channels.GET("", h.List)
}

// Create handles POST /v1/channels.
func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	channel, err := h.svc.Create(c.Request.Context(), identity.OrganizationID(), req.Provider, req.Name, req.Config)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, toChannelResponse(*channel))
}

// List handles GET /v1/channels.
func (h *Handler) List(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	channels, err := h.svc.List(c.Request.Context(), identity.OrganizationID())
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.ListChannelsResponse{Channels: make([]transport.ChannelResponse, len(channels))}
	for i, channel := range channels {
		resp.Channels[i] = toChannelResponse(channel)
	}
	httpkit.OK(c, resp)
}

func toChannelResponse(channel repository.Channel) transport.ChannelResponse {
	return transport.ChannelResponse{
		ID:        channel.ID,
		Provider:  channel.Provider,
		Name:      channel.Name,
		Config:    channel.Config,
		CreatedAt: channel.CreatedAt,
		UpdatedAt: channel.UpdatedAt,
	}
}
