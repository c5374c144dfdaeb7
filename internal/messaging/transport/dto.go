// Package transport defines the messaging module's wire DTOs.
package transport

import "github.com/google/uuid"

// MockInboundRequest is the body of POST /v1/mock/whatsapp/inbound, a
// developer-only inbound simulation that bypasses the provider adapter's
// wire format and builds one via BuildMockPayload.
type MockInboundRequest struct {
	ChannelID  uuid.UUID `json:"channelId" binding:"required"`
	From       string    `json:"from" binding:"required"`
	Text       string    `json:"text"`
	SenderName string    `json:"senderName"`
}

// IngestResponse is the shared response shape for inbound ingestion.
type IngestResponse struct {
	MessageID      uuid.UUID `json:"messageId"`
	ContactID      uuid.UUID `json:"contactId"`
	ConversationID uuid.UUID `json:"conversationId"`
	LeadID         uuid.UUID `json:"leadId"`
}
