package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task type names double as queue names: each queue in the job substrate
// carries exactly one task type, so dispatch and routing share one string.
const (
	TaskInboundEvent    = "inbound.events"
	TaskOutboundMessage = "outbound.messages"
	TaskWhatsAppStatus  = "whatsapp.status"
	TaskCampaignSend    = "campaign.sends"
	TaskJourneyRun      = "journey.runs"
	TaskKnowledgeSync   = "knowledge.sync"
	TaskAIInsight       = "ai.insights"
	TaskCRMWebhook      = "crm.webhooks"
	TaskAnalyticsMetric = "analytics.metrics"
	TaskAgentReply      = "agent.replies"
)

// Queues lists every named queue in dispatch order, used to build the
// asynq server's queue weight map.
var Queues = []string{
	TaskInboundEvent,
	TaskOutboundMessage,
	TaskWhatsAppStatus,
	TaskCampaignSend,
	TaskJourneyRun,
	TaskKnowledgeSync,
	TaskAIInsight,
	TaskCRMWebhook,
	TaskAnalyticsMetric,
	TaskAgentReply,
}

// InboundEventPayload carries a raw provider callback through to the
// messaging pipeline for parsing and contact/conversation resolution.
type InboundEventPayload struct {
	OrganizationID string          `json:"organizationId"`
	ChannelID      string          `json:"channelId"`
	Provider       string          `json:"provider"`
	RawBody        json.RawMessage `json:"rawBody"`
}

// OutboundMessagePayload carries a persisted Message row through to the
// provider adapter for delivery.
type OutboundMessagePayload struct {
	OrganizationID string  `json:"organizationId"`
	MessageID      string  `json:"messageId"`
	ConversationID string  `json:"conversationId"`
	ChannelID      string  `json:"channelId"`
	CampaignID     *string `json:"campaignId,omitempty"`
	JourneyRunID   *string `json:"journeyRunId,omitempty"`
}

// WhatsAppStatusPayload carries a raw status callback through to status
// reconciliation (pending -> sent -> delivered -> read, or -> failed).
type WhatsAppStatusPayload struct {
	OrganizationID string          `json:"organizationId"`
	ChannelID      string          `json:"channelId"`
	Provider       string          `json:"provider"`
	RawBody        json.RawMessage `json:"rawBody"`
}

// CampaignSendPayload drives a single recipient's send within a
// materialized campaign tick.
type CampaignSendPayload struct {
	OrganizationID string `json:"organizationId"`
	CampaignID     string `json:"campaignId"`
	SendID         string `json:"sendId"`
	LeadID         string `json:"leadId"`
}

// JourneyRunPayload advances one journey run by one step. The handler
// re-enqueues itself for the next step rather than looping in-process,
// so a single run never monopolizes a worker.
type JourneyRunPayload struct {
	OrganizationID string `json:"organizationId"`
	JourneyID      string `json:"journeyId"`
	RunID          string `json:"runId"`
}

// KnowledgeSyncPayload refreshes a knowledge source used by AI-assisted
// reply drafting. Out of scope for this core (no-op handler).
type KnowledgeSyncPayload struct {
	OrganizationID string `json:"organizationId"`
	SourceID       string `json:"sourceId"`
}

// AIInsightPayload requests an AI-generated insight for an organization.
// Out of scope for this core (no-op handler).
type AIInsightPayload struct {
	OrganizationID string `json:"organizationId"`
}

// CRMWebhookPayload carries an outbound CRM notification (lead sync,
// revenue report) to be POSTed to the organization's configured webhook.
type CRMWebhookPayload struct {
	OrganizationID string          `json:"organizationId"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
}

// AnalyticsMetricPayload triggers an analytics rollup window for an
// organization.
type AnalyticsMetricPayload struct {
	OrganizationID string `json:"organizationId"`
	Window         string `json:"window"`
}

// AgentReplyPayload requests an AI-drafted reply suggestion for a
// conversation. Out of scope for this core (no-op handler).
type AgentReplyPayload struct {
	OrganizationID string `json:"organizationId"`
	ConversationID string `json:"conversationId"`
}

func NewInboundEventTask(payload InboundEventPayload) (*asynq.Task, error) {
	return newTask(TaskInboundEvent, payload)
}

func ParseInboundEventPayload(task *asynq.Task) (InboundEventPayload, error) {
	var payload InboundEventPayload
	err := parsePayload(task, &payload)
	return payload, err
}

func NewOutboundMessageTask(payload OutboundMessagePayload) (*asynq.Task, error) {
	return newTask(TaskOutboundMessage, payload)
}

func ParseOutboundMessagePayload(task *asynq.Task) (OutboundMessagePayload, error) {
	var payload OutboundMessagePayload
	err := parsePayload(task, &payload)
	return payload, err
}

func NewWhatsAppStatusTask(payload WhatsAppStatusPayload) (*asynq.Task, error) {
	return newTask(TaskWhatsAppStatus, payload)
}

func ParseWhatsAppStatusPayload(task *asynq.Task) (WhatsAppStatusPayload, error) {
	var payload WhatsAppStatusPayload
	err := parsePayload(task, &payload)
	return payload, err
}

func NewCampaignSendTask(payload CampaignSendPayload) (*asynq.Task, error) {
	return newTask(TaskCampaignSend, payload)
}

func ParseCampaignSendPayload(task *asynq.Task) (CampaignSendPayload, error) {
	var payload CampaignSendPayload
	err := parsePayload(task, &payload)
	return payload, err
}

func NewJourneyRunTask(payload JourneyRunPayload) (*asynq.Task, error) {
	return newTask(TaskJourneyRun, payload)
}

func ParseJourneyRunPayload(task *asynq.Task) (JourneyRunPayload, error) {
	var payload JourneyRunPayload
	err := parsePayload(task, &payload)
	return payload, err
}

func NewKnowledgeSyncTask(payload KnowledgeSyncPayload) (*asynq.Task, error) {
	return newTask(TaskKnowledgeSync, payload)
}

func ParseKnowledgeSyncPayload(task *asynq.Task) (KnowledgeSyncPayload, error) {
	var payload KnowledgeSyncPayload
	err := parsePayload(task, &payload)
	return payload, err
}

func NewAIInsightTask(payload AIInsightPayload) (*asynq.Task, error) {
	return newTask(TaskAIInsight, payload)
}

func ParseAIInsightPayload(task *asynq.Task) (AIInsightPayload, error) {
	var payload AIInsightPayload
	err := parsePayload(task, &payload)
	return payload, err
}

func NewCRMWebhookTask(payload CRMWebhookPayload) (*asynq.Task, error) {
	return newTask(TaskCRMWebhook, payload)
}

func ParseCRMWebhookPayload(task *asynq.Task) (CRMWebhookPayload, error) {
	var payload CRMWebhookPayload
	err := parsePayload(task, &payload)
	return payload, err
}

func NewAnalyticsMetricTask(payload AnalyticsMetricPayload) (*asynq.Task, error) {
	return newTask(TaskAnalyticsMetric, payload)
}

func ParseAnalyticsMetricPayload(task *asynq.Task) (AnalyticsMetricPayload, error) {
	var payload AnalyticsMetricPayload
	err := parsePayload(task, &payload)
	return payload, err
}

func NewAgentReplyTask(payload AgentReplyPayload) (*asynq.Task, error) {
	return newTask(TaskAgentReply, payload)
}

func ParseAgentReplyPayload(task *asynq.Task) (AgentReplyPayload, error) {
	var payload AgentReplyPayload
	err := parsePayload(task, &payload)
	return payload, err
}

func newTask(name string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, data), nil
}

func parsePayload(task *asynq.Task, out any) error {
	return json.Unmarshal(task.Payload(), out)
}
