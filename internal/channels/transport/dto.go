// Package transport defines the channels module's wire DTOs.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// CreateChannelRequest is the body of POST /v1/channels.
type CreateChannelRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Name     string            `json:"name" binding:"required"`
	Config   map[string]string `json:"config"`
}

// ChannelResponse is the wire shape of a channel.
type ChannelResponse struct {
	ID        uuid.UUID         `json:"id"`
	Provider  string            `json:"provider"`
	Name      string            `json:"name"`
	Config    map[string]string `json:"config"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ListChannelsResponse is the body of GET /v1/channels.
type ListChannelsResponse struct {
	Channels []ChannelResponse `json:"channels"`
}
