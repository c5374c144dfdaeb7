// Package transport defines the journeys module's wire DTOs.
package transport

import (
	"time"

	"github.com/omnireach/core/internal/journeys/engine"

	"github.com/google/uuid"
)

// CreateJourneyRequest is the body of POST /v1/journeys.
type CreateJourneyRequest struct {
	Name     string           `json:"name" binding:"required"`
	Triggers []engine.Trigger `json:"triggers" binding:"required"`
	Nodes    []engine.Node    `json:"nodes" binding:"required"`
	Edges    []engine.Edge    `json:"edges"`
}

// JourneyResponse is the wire shape for a Journey.
type JourneyResponse struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Status    string           `json:"status"`
	Triggers  []engine.Trigger `json:"triggers"`
	Nodes     []engine.Node    `json:"nodes"`
	Edges     []engine.Edge    `json:"edges"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// JourneyRunResponse is the wire shape for a Run.
type JourneyRunResponse struct {
	ID             uuid.UUID  `json:"id"`
	JourneyID      uuid.UUID  `json:"journeyId"`
	LeadID         *uuid.UUID `json:"leadId,omitempty"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	TriggerType    string     `json:"triggerType"`
	Status         string     `json:"status"`
	CurrentNodeID  *string    `json:"currentNodeId,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// JourneyRunStepResponse is the wire shape for a Step.
type JourneyRunStepResponse struct {
	ID        uuid.UUID      `json:"id"`
	RunID     uuid.UUID      `json:"runId"`
	NodeID    string         `json:"nodeId"`
	StepIndex int            `json:"stepIndex"`
	Status    string         `json:"status"`
	WakeAt    *time.Time     `json:"wakeAt,omitempty"`
	Attempts  int            `json:"attempts"`
	Output    map[string]any `json:"output,omitempty"`
	Error     *string        `json:"error,omitempty"`
}
