// Package transport defines the crm module's wire DTOs.
package transport

import "time"

// MappingResponse is the wire shape for an organization's CRM mapping.
type MappingResponse struct {
	WebhookURL   *string           `json:"webhookUrl,omitempty"`
	FieldMapping map[string]string `json:"fieldMapping"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// PutMappingRequest is the body of PUT /v1/crm/mapping.
type PutMappingRequest struct {
	WebhookURL   *string           `json:"webhookUrl"`
	FieldMapping map[string]string `json:"fieldMapping"`
}

// PreviewMappingRequest is the body of POST /v1/crm/mapping/preview.
type PreviewMappingRequest struct {
	Sample map[string]any `json:"sample" binding:"required"`
}

// PreviewMappingResponse reports the remapped sample payload.
type PreviewMappingResponse struct {
	Result map[string]any `json:"result"`
}

// RevenueRequest is the body of POST /v1/crm/revenue.
type RevenueRequest struct {
	Data map[string]any `json:"data" binding:"required"`
}
