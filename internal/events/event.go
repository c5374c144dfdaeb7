// Package events provides domain event definitions for decoupled,
// event-driven communication between modules. The bus primitives
// (Event, Handler, Bus) are re-exported from platform/events so domain
// code only imports this package.
package events

import (
	"time"

	platformevents "github.com/omnireach/core/platform/events"
	"github.com/google/uuid"
)

// Event, Handler, HandlerFunc and Bus are re-exported from platform/events.
type (
	Event       = platformevents.Event
	Handler     = platformevents.Handler
	HandlerFunc = platformevents.HandlerFunc
	Bus         = platformevents.Bus
	BaseEvent   = platformevents.BaseEvent
)

// NewBaseEvent creates a new base event with the current timestamp.
func NewBaseEvent() BaseEvent {
	return platformevents.NewBaseEvent()
}

// =============================================================================
// C1 Message Pipeline events
// =============================================================================

// MessageReceived is published when an inbound message is ingested and
// persisted, after contact/conversation resolution.
type MessageReceived struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	ChannelID      uuid.UUID `json:"channelId"`
	ConversationID uuid.UUID `json:"conversationId"`
	ContactID      uuid.UUID `json:"contactId"`
	MessageID      uuid.UUID `json:"messageId"`
}

func (e MessageReceived) EventName() string { return "messaging.message.received" }

// MessageSent is published when an outbound message is accepted by the
// provider adapter (not necessarily delivered yet).
type MessageSent struct {
	BaseEvent
	OrganizationID uuid.UUID  `json:"organizationId"`
	ChannelID      uuid.UUID  `json:"channelId"`
	ConversationID uuid.UUID  `json:"conversationId"`
	MessageID      uuid.UUID  `json:"messageId"`
	CampaignID     *uuid.UUID `json:"campaignId,omitempty"`
	JourneyRunID   *uuid.UUID `json:"journeyRunId,omitempty"`
}

func (e MessageSent) EventName() string { return "messaging.message.sent" }

// MessageStatusUpdated is published whenever a provider status callback
// advances a message's delivery status (pending -> sent -> delivered ->
// read, or -> failed).
type MessageStatusUpdated struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	MessageID      uuid.UUID `json:"messageId"`
	Status         string    `json:"status"`
}

func (e MessageStatusUpdated) EventName() string { return "messaging.message.status_updated" }

// =============================================================================
// C2 Lead Rule Engine events
// =============================================================================

// LeadSignalReceived is published when a new signal is recorded against a
// lead, before rule evaluation runs.
type LeadSignalReceived struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
	Signal         string    `json:"signal"`
}

func (e LeadSignalReceived) EventName() string { return "leads.signal.received" }

// LeadRuleMatched is published once per matched rule after an evaluation
// pass, carrying the rule that matched and the lead it matched against.
type LeadRuleMatched struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
	RuleID         uuid.UUID `json:"ruleId"`
}

func (e LeadRuleMatched) EventName() string { return "leads.rule.matched" }

// LeadStageChanged is published when a rule or manual action changes a
// lead's pipeline stage. Journeys subscribe to this to evaluate
// stage_change triggers.
type LeadStageChanged struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
	PreviousStage  string    `json:"previousStage"`
	NewStage       string    `json:"newStage"`
}

func (e LeadStageChanged) EventName() string { return "leads.stage.changed" }

// LeadTagsChanged is published when a rule or manual action adds or
// removes tags from a lead. Journeys subscribe to this to evaluate
// tag_change triggers.
type LeadTagsChanged struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
	Added          []string  `json:"added,omitempty"`
	Removed        []string  `json:"removed,omitempty"`
}

func (e LeadTagsChanged) EventName() string { return "leads.tags.changed" }

// =============================================================================
// C3 Campaign Orchestrator events
// =============================================================================

// CampaignScheduled is published when a campaign's scheduled sends have
// been materialized.
type CampaignScheduled struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	CampaignID     uuid.UUID `json:"campaignId"`
	Audience       int       `json:"audience"`
}

func (e CampaignScheduled) EventName() string { return "campaigns.campaign.scheduled" }

// CampaignSendCompleted is published when a single recipient's campaign
// send reaches a terminal state (sent, failed or skipped).
type CampaignSendCompleted struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	CampaignID     uuid.UUID `json:"campaignId"`
	LeadID         uuid.UUID `json:"leadId"`
	Status         string    `json:"status"`
}

func (e CampaignSendCompleted) EventName() string { return "campaigns.send.completed" }

// =============================================================================
// C4 Journey State Machine events
// =============================================================================

// JourneyTriggered is published when a trigger condition matches and a
// new journey run is started for a lead.
type JourneyTriggered struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	JourneyID      uuid.UUID `json:"journeyId"`
	RunID          uuid.UUID `json:"runId"`
	LeadID         uuid.UUID `json:"leadId"`
}

func (e JourneyTriggered) EventName() string { return "journeys.run.triggered" }

// JourneyStepCompleted is published after a journey run advances past a
// node in its graph.
type JourneyStepCompleted struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	RunID          uuid.UUID `json:"runId"`
	NodeID         string    `json:"nodeId"`
}

func (e JourneyStepCompleted) EventName() string { return "journeys.step.completed" }

// JourneyRunFinished is published when a journey run reaches a terminal
// state (completed or failed). Cancelling a run does not publish it.
type JourneyRunFinished struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	RunID          uuid.UUID `json:"runId"`
	Status         string    `json:"status"`
}

func (e JourneyRunFinished) EventName() string { return "journeys.run.finished" }

// =============================================================================
// C5 Attribution + Analytics events
// =============================================================================

// ConversionRecorded is published when a lead converts, ahead of
// attribution credit-split and analytics rollup.
type ConversionRecorded struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
	RevenueCents   *int64    `json:"revenueCents,omitempty"`
	OccurredAtTime time.Time `json:"occurredAt"`
}

func (e ConversionRecorded) EventName() string { return "attribution.conversion.recorded" }
