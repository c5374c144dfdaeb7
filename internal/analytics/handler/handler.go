// Package handler implements HTTP handlers for the analytics module.
package handler

import (
	"net/http"
	"time"

	"github.com/omnireach/core/internal/analytics/repository"
	"github.com/omnireach/core/internal/analytics/service"
	"github.com/omnireach/core/internal/analytics/transport"
	"github.com/omnireach/core/platform/httpkit"
	"github.com/omnireach/core/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgInvalidID        = "invalid id"
	msgInvalidDateRange = "invalid date range"
	dateLayout          = "2006-01-02"
)

// Handler handles HTTP requests for analytics and attribution.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new analytics handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the analytics routes under the given group.
func (h *Handler) RegisterRoutes(analytics *gin.RouterGroup) {
	analytics.GET("/summary", h.Summary)
	analytics.GET("/channels/:channelId", h.Channel)
	analytics.GET("/campaigns/:campaignId", h.Campaign)
	analytics.GET("/settings", h.GetSettings)
	analytics.PUT("/settings", h.PutSettings)
	analytics.POST("/revenue-events", h.RecordRevenue)
}

// RegisterAttributionRoutes registers the attribution report route
// under a separate top-level group (GET /v1/attribution/report).
func (h *Handler) RegisterAttributionRoutes(attribution *gin.RouterGroup) {
	attribution.GET("/report", h.AttributionReport)
}

func parseRange(c *gin.Context) (from, to time.Time, ok bool) {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDateRange, nil)
		return time.Time{}, time.Time{}, false
	}
	from, err := time.Parse(dateLayout, fromStr)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDateRange, nil)
		return time.Time{}, time.Time{}, false
	}
	to, err = time.Parse(dateLayout, toStr)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDateRange, nil)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// Summary handles GET /v1/analytics/summary.
func (h *Handler) Summary(c *gin.Context) {
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	rows, err := h.svc.Summary(c.Request.Context(), identity.OrganizationID(), from, to)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toSummaryResponse(rows))
}

// Channel handles GET /v1/analytics/channels/:channelId.
func (h *Handler) Channel(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("channelId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	rows, err := h.svc.Channel(c.Request.Context(), identity.OrganizationID(), channelID, from, to)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toSummaryResponse(rows))
}

// Campaign handles GET /v1/analytics/campaigns/:campaignId.
func (h *Handler) Campaign(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("campaignId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	rows, err := h.svc.Campaign(c.Request.Context(), identity.OrganizationID(), campaignID, from, to)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toSummaryResponse(rows))
}

// AttributionReport handles GET /v1/attribution/report?model=...
func (h *Handler) AttributionReport(c *gin.Context) {
	model := c.DefaultQuery("model", "linear")
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	rows, err := h.svc.AttributionReport(c.Request.Context(), identity.OrganizationID(), model, from, to)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]transport.AttributionRowResponse, len(rows))
	for i, r := range rows {
		resp[i] = transport.AttributionRowResponse{
			LeadID:        r.LeadID,
			ConversionAt:  r.ConversionAt,
			Model:         r.Model,
			TouchpointRef: r.TouchpointRef,
			Weight:        r.Weight,
			AmountCredit:  r.AmountCredit,
		}
	}
	httpkit.OK(c, transport.AttributionReportResponse{Rows: resp})
}

// GetSettings handles GET /v1/analytics/settings.
func (h *Handler) GetSettings(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	settings, err := h.svc.GetSettings(c.Request.Context(), identity.OrganizationID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.SettingsResponse{AttributionModel: settings.AttributionModel, LookbackDays: settings.LookbackDays})
}

// PutSettings handles PUT /v1/analytics/settings.
func (h *Handler) PutSettings(c *gin.Context) {
	var req transport.PutSettingsRequest
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

	settings, err := h.svc.PutSettings(c.Request.Context(), identity.OrganizationID(), req.AttributionModel, req.LookbackDays)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.SettingsResponse{AttributionModel: settings.AttributionModel, LookbackDays: settings.LookbackDays})
}

// RecordRevenue handles POST /v1/analytics/revenue-events.
func (h *Handler) RecordRevenue(c *gin.Context) {
	var req transport.RevenueEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "EUR"
	}
	receivedAt := time.Now().UTC()
	if req.ReceivedAt != nil {
		receivedAt = *req.ReceivedAt
	}

	recorded, err := h.svc.RecordRevenue(c.Request.Context(), identity.OrganizationID(), req.LeadID, req.CampaignID, req.AmountCents, currency, req.ExternalID, receivedAt)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.RevenueEventResponse{Recorded: recorded})
}

func toSummaryResponse(rows []repository.DailyMetrics) transport.SummaryResponse {
	out := make([]transport.DailyMetricsResponse, len(rows))
	for i, r := range rows {
		var responseRate, conversionRate float64
		if r.InboundCount > 0 {
			responseRate = float64(r.ResponseCount) / float64(r.InboundCount)
		}
		if r.LeadCreated > 0 {
			conversionRate = float64(r.LeadConverted) / float64(r.LeadCreated)
		}
		out[i] = transport.DailyMetricsResponse{
			Date:                   r.Date.Format(dateLayout),
			ChannelID:              r.ChannelID,
			CampaignID:             r.CampaignID,
			OutboundSent:           r.OutboundSent,
			OutboundDelivered:      r.OutboundDelivered,
			OutboundFailed:         r.OutboundFailed,
			InboundCount:           r.InboundCount,
			ResponseCount:          r.ResponseCount,
			ResponseRate:           responseRate,
			LeadCreated:            r.LeadCreated,
			LeadConverted:          r.LeadConverted,
			ConversionRate:         conversionRate,
			AttributedConversions:  r.AttributedConversions,
			AttributedRevenueCents: r.AttributedRevenueCents,
		}
	}
	return transport.SummaryResponse{Rows: out}
}
