// Package handler implements HTTP handlers for the messaging module:
// the developer-only mock inbound endpoint and the provider webhook
// ingress (inbound + status callbacks).
package handler

import (
	"io"
	"net/http"

	"github.com/omnireach/core/internal/jobs"
	"github.com/omnireach/core/internal/messaging/service"
	"github.com/omnireach/core/internal/messaging/transport"
	"github.com/omnireach/core/platform/apperr"
	"github.com/omnireach/core/platform/httpkit"
	"github.com/omnireach/core/platform/logger"
	"github.com/omnireach/core/platform/validator"
	"github.com/omnireach/core/platform/webhooksig"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgInvalidRequest = "invalid request"

// Handler handles HTTP requests for the messaging module.
type Handler struct {
	svc      *service.Service
	jobs     *jobs.Client
	verifier *webhooksig.Verifier
	val      *validator.Validator
	log      *logger.Logger
}

// New creates a new messaging handler.
func New(svc *service.Service, jobsClient *jobs.Client, verifier *webhooksig.Verifier, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{svc: svc, jobs: jobsClient, verifier: verifier, val: val, log: log}
}

// RegisterMockRoutes registers the developer-only mock inbound endpoint
// under the protected group.
func (h *Handler) RegisterMockRoutes(mock *gin.RouterGroup) {
	mock.POST("/whatsapp/inbound", h.MockInbound)
}

// RegisterWebhookRoutes registers provider inbound and status webhooks
// under the public group, as these are called server-to-server by the
// provider without a bearer token.
func (h *Handler) RegisterWebhookRoutes(webhooks *gin.RouterGroup) {
	webhooks.POST("/whatsapp/:provider/:channelId", h.InboundWebhook)
	webhooks.POST("/whatsapp/status/:provider/:channelId", h.StatusWebhook)
}

// MockInbound handles POST /v1/mock/whatsapp/inbound.
func (h *Handler) MockInbound(c *gin.Context) {
	var req transport.MockInboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	result, err := h.svc.IngestMock(c.Request.Context(), identity.OrganizationID(), req.ChannelID, req.From, req.SenderName, req.Text)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.IngestResponse{
		MessageID:      result.MessageID,
		ContactID:      result.ContactID,
		ConversationID: result.ConversationID,
		LeadID:         result.LeadID,
	})
}

// InboundWebhook handles POST /v1/webhooks/whatsapp/:provider/:channelId.
// It verifies the signature (if configured), resolves the tenant from
// the channel id, and enqueues the payload for async processing so
// retry/dead-letter applies per spec.md §4.1.
func (h *Handler) InboundWebhook(c *gin.Context) {
	h.handleWebhook(c, false)
}

// StatusWebhook handles POST /v1/webhooks/whatsapp/status/:provider/:channelId.
func (h *Handler) StatusWebhook(c *gin.Context) {
	h.handleWebhook(c, true)
}

func (h *Handler) handleWebhook(c *gin.Context, status bool) {
	provider := c.Param("provider")
	channelID, err := uuid.Parse(c.Param("channelId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid channel id", nil)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unable to read body", nil)
		return
	}

	if err := h.verifier.Verify(c.Request.Context(),
		c.GetHeader(webhooksig.TimestampHeader), c.GetHeader(webhooksig.SignatureHeader), body); err != nil {
		h.log.WebhookEvent(channelID.String(), provider, false, err.Error())
		httpkit.HandleError(c, err)
		return
	}
	h.log.WebhookEvent(channelID.String(), provider, true, "")

	channel, err := h.svc.ResolveChannelOrganization(c.Request.Context(), channelID)
	if httpkit.HandleError(c, err) {
		return
	}
	if channel.Provider != provider {
		httpkit.HandleError(c, apperr.Conflict("provider mismatch for channel"))
		return
	}

	ctx := c.Request.Context()
	if status {
		err = h.jobs.EnqueueWhatsAppStatus(ctx, jobs.WhatsAppStatusPayload{
			OrganizationID: channel.OrganizationID.String(),
			ChannelID:      channelID.String(),
			Provider:       provider,
			RawBody:        body,
		})
	} else {
		err = h.jobs.EnqueueInboundEvent(ctx, jobs.InboundEventPayload{
			OrganizationID: channel.OrganizationID.String(),
			ChannelID:      channelID.String(),
			Provider:       provider,
			RawBody:        body,
		})
	}
	if err != nil {
		httpkit.HandleError(c, apperr.TransientDependency("failed to enqueue webhook event", err))
		return
	}

	httpkit.JSON(c, http.StatusAccepted, gin.H{"accepted": true})
}
