// Package transport defines the campaigns module's wire DTOs.
package transport

import (
	"time"

	leadsrepo "github.com/omnireach/core/internal/leads/repository"

	"github.com/google/uuid"
)

// CreateCampaignRequest is the body of POST /v1/campaigns.
type CreateCampaignRequest struct {
	ChannelID   uuid.UUID         `json:"channelId" binding:"required"`
	Name        string            `json:"name" binding:"required"`
	MessageText string            `json:"messageText" binding:"required"`
	Segment     leadsrepo.Segment `json:"segment"`
}

// ScheduleCampaignRequest is the body of POST /v1/campaigns/:id/schedule.
type ScheduleCampaignRequest struct {
	ScheduleAt time.Time `json:"scheduleAt" binding:"required"`
}

// UpdateROIRequest is the body of PUT /v1/campaigns/:id/roi.
type UpdateROIRequest struct {
	CostCents    *int64 `json:"costCents"`
	RevenueCents *int64 `json:"revenueCents"`
}

// PreviewAudienceRequest is the body of POST /v1/campaigns/preview-audience.
type PreviewAudienceRequest struct {
	Segment leadsrepo.Segment `json:"segment"`
}

// PreviewAudienceResponse reports the segment's current matching count.
type PreviewAudienceResponse struct {
	Count int `json:"count"`
}

// CampaignResponse is the wire shape for a Campaign.
type CampaignResponse struct {
	ID           uuid.UUID         `json:"id"`
	ChannelID    uuid.UUID         `json:"channelId"`
	Name         string            `json:"name"`
	MessageText  string            `json:"messageText"`
	Segment      leadsrepo.Segment `json:"segment"`
	ScheduleAt   *time.Time        `json:"scheduleAt,omitempty"`
	Status       string            `json:"status"`
	CostCents    *int64            `json:"costCents,omitempty"`
	RevenueCents *int64            `json:"revenueCents,omitempty"`
	QueuedCount  int               `json:"queuedCount"`
	SentCount    int               `json:"sentCount"`
	FailedCount  int               `json:"failedCount"`
	SkippedCount int               `json:"skippedCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// CampaignSendResponse is the wire shape for a CampaignSend.
type CampaignSendResponse struct {
	ID         uuid.UUID  `json:"id"`
	CampaignID uuid.UUID  `json:"campaignId"`
	LeadID     uuid.UUID  `json:"leadId"`
	MessageID  *uuid.UUID `json:"messageId,omitempty"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
}
