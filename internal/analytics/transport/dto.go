// Package transport defines the analytics module's wire DTOs.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// DailyMetricsResponse is the wire shape for one analytics_daily row.
type DailyMetricsResponse struct {
	Date                   string     `json:"date"`
	ChannelID              *uuid.UUID `json:"channelId,omitempty"`
	CampaignID             *uuid.UUID `json:"campaignId,omitempty"`
	OutboundSent           int        `json:"outboundSent"`
	OutboundDelivered      int        `json:"outboundDelivered"`
	OutboundFailed         int        `json:"outboundFailed"`
	InboundCount           int        `json:"inboundCount"`
	ResponseCount          int        `json:"responseCount"`
	ResponseRate           float64    `json:"responseRate"`
	LeadCreated            int        `json:"leadCreated"`
	LeadConverted          int        `json:"leadConverted"`
	ConversionRate         float64    `json:"conversionRate"`
	AttributedConversions  int        `json:"attributedConversions"`
	AttributedRevenueCents int64      `json:"attributedRevenueCents"`
}

// SummaryResponse is the body of GET /v1/analytics/summary and the
// per-scope trend endpoints.
type SummaryResponse struct {
	Rows []DailyMetricsResponse `json:"rows"`
}

// RevenueEventRequest is the body of POST /v1/analytics/revenue-events.
type RevenueEventRequest struct {
	LeadID       *uuid.UUID `json:"leadId"`
	CampaignID   *uuid.UUID `json:"campaignId"`
	AmountCents  int64      `json:"amountCents" binding:"required"`
	Currency     string     `json:"currency"`
	ExternalID   *string    `json:"externalId"`
	ReceivedAt   *time.Time `json:"receivedAt"`
}

// RevenueEventResponse reports whether a revenue event was newly
// recorded or discarded as a duplicate delivery.
type RevenueEventResponse struct {
	Recorded bool `json:"recorded"`
}

// AttributionRowResponse is one row of the attribution report.
type AttributionRowResponse struct {
	LeadID        uuid.UUID `json:"leadId"`
	ConversionAt  time.Time `json:"conversionAt"`
	Model         string    `json:"model"`
	TouchpointRef string    `json:"touchpointRef"`
	Weight        float64   `json:"weight"`
	AmountCredit  *int64    `json:"amountCredit,omitempty"`
}

// AttributionReportResponse is the body of GET /v1/attribution/report.
type AttributionReportResponse struct {
	Rows []AttributionRowResponse `json:"rows"`
}

// SettingsResponse is the wire shape for analytics settings.
type SettingsResponse struct {
	AttributionModel string `json:"attributionModel"`
	LookbackDays     int    `json:"lookbackDays"`
}

// PutSettingsRequest is the body of PUT /v1/analytics/settings.
type PutSettingsRequest struct {
	AttributionModel string `json:"attributionModel" binding:"required"`
	LookbackDays     int    `json:"lookbackDays" binding:"required"`
}
