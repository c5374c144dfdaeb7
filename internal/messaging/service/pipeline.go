// Package service implements the C1 message pipeline's core logic:
// inbound normalization (contact/conversation/message resolution and
// lead rule evaluation), outbound enqueue/send, and status
// reconciliation, all behind the provider adapter registry.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	channelsrepo "github.com/omnireach/core/internal/channels/repository"
	"github.com/omnireach/core/internal/events"
	"github.com/omnireach/core/internal/jobs"
	leadsservice "github.com/omnireach/core/internal/leads/service"
	"github.com/omnireach/core/internal/messaging/repository"
	"github.com/omnireach/core/internal/providers"
	"github.com/omnireach/core/platform/apperr"
	"github.com/omnireach/core/platform/logger"

	"github.com/google/uuid"
)

// Linkage points an outbound message at the CampaignSend or
// JourneyRunStep that caused it to be sent, per spec.md §4.1.
type Linkage struct {
	CampaignSendID   *uuid.UUID
	JourneyRunStepID *uuid.UUID
}

// IngestResult is the public contract's return shape for IngestInbound.
type IngestResult struct {
	MessageID      uuid.UUID
	ContactID      uuid.UUID
	ConversationID uuid.UUID
	LeadID         uuid.UUID
	Created        bool
}

// statusRank orders the monotonic status progression pending -> sent ->
// delivered -> read. failed is tracked separately as a terminal state.
var statusRank = map[string]int{
	"pending":   0,
	"sent":      1,
	"delivered": 2,
	"read":      3,
}

// ChannelsRepo is the subset of the channels repository the pipeline
// needs to resolve a channel's provider and config.
type ChannelsRepo interface {
	GetByID(ctx context.Context, id, organizationID uuid.UUID) (*channelsrepo.Channel, error)
	GetByIDAny(ctx context.Context, id uuid.UUID) (*channelsrepo.Channel, error)
}

// Service implements the message pipeline's domain operations.
type Service struct {
	repo      *repository.Repository
	channels  ChannelsRepo
	providers *providers.Registry
	leads     *leadsservice.Service
	jobs      *jobs.Client
	bus       events.Bus
	log       *logger.Logger
}

// New creates a new messaging pipeline service.
func New(repo *repository.Repository, channels ChannelsRepo, registry *providers.Registry, leads *leadsservice.Service, jobsClient *jobs.Client, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, channels: channels, providers: registry, leads: leads, jobs: jobsClient, bus: bus, log: log}
}

// Ingest is the synchronous core of IngestInbound: normalize a
// provider-shaped payload into Contact/Conversation/Message rows, then
// drive lead creation and rule evaluation. It backs both the
// developer-only mock endpoint (called directly, synchronously) and
// IngestInbound (the async queue-driven wrapper for real provider
// webhooks).
func (s *Service) Ingest(ctx context.Context, organizationID, channelID uuid.UUID, provider string, rawBody []byte) (*IngestResult, error) {
	channel, err := s.channels.GetByID(ctx, channelID, organizationID)
	if err != nil {
		return nil, err
	}
	if provider != "" && channel.Provider != provider {
		return nil, apperr.Conflict("provider mismatch for channel")
	}

	adapter, ok := s.providers.Lookup(channel.Provider)
	if !ok {
		return nil, apperr.Validation("unknown provider: " + channel.Provider)
	}

	inbound, err := adapter.ParseInbound(ctx, rawBody)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(inbound.SenderExternalID) == "" {
		return nil, apperr.Validation("inbound payload missing sender_external_id")
	}

	contact, err := s.repo.GetContactBySenderExternalID(ctx, organizationID, channelID, inbound.SenderExternalID)
	if apperr.GetKind(err) == apperr.KindNotFound {
		contact = &repository.Contact{
			ID:               uuid.New(),
			OrganizationID:   organizationID,
			ChannelID:        channelID,
			SenderExternalID: inbound.SenderExternalID,
			Tags:             []string{},
			Metadata:         map[string]any{},
			CreatedAt:        time.Now().UTC(),
		}
		if inbound.SenderName != "" {
			contact.Name = &inbound.SenderName
		}
		if err := s.repo.CreateContact(ctx, contact); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conversation, err := s.repo.GetOrCreateConversation(ctx, organizationID, contact.ID, channelID, now)
	if err != nil {
		return nil, err
	}

	message := &repository.Message{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		ConversationID: conversation.ID,
		ChannelID:      channelID,
		Direction:      "in",
		Text:           inbound.Text,
		Status:         "delivered",
		ReceivedAt:     inbound.Timestamp,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if inbound.ExternalID != "" {
		message.ExternalID = &inbound.ExternalID
	}

	created, err := s.repo.CreateMessage(ctx, message)
	if err != nil {
		return nil, err
	}
	if !created && inbound.ExternalID != "" {
		existing, err := s.repo.GetMessageByExternalID(ctx, conversation.ID, inbound.ExternalID)
		if err != nil {
			return nil, err
		}
		message = existing
	}

	if err := s.repo.TouchConversation(ctx, conversation.ID, now); err != nil {
		return nil, err
	}

	lead, err := s.leads.GetOrCreateForContact(ctx, organizationID, contact.ID, "inbound")
	if err != nil {
		return nil, err
	}

	if created {
		if _, _, err := s.leads.ApplyInboundText(ctx, organizationID, lead.ID, inbound.Text); err != nil {
			return nil, err
		}
		s.bus.Publish(ctx, events.MessageReceived{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: organizationID,
			ChannelID:      channelID,
			ConversationID: conversation.ID,
			ContactID:      contact.ID,
			MessageID:      message.ID,
		})
	}

	return &IngestResult{
		MessageID:      message.ID,
		ContactID:      contact.ID,
		ConversationID: conversation.ID,
		LeadID:         lead.ID,
		Created:        created,
	}, nil
}

// IngestMock backs the developer-only POST /v1/mock/whatsapp/inbound
// simulation: it builds a wire-shaped payload through the channel's own
// registered adapter (so the same normalization path as a real webhook
// runs) and ingests it synchronously, returning the resulting ids
// immediately per spec.md §8 scenario 1.
func (s *Service) IngestMock(ctx context.Context, organizationID, channelID uuid.UUID, from, senderName, text string) (*IngestResult, error) {
	channel, err := s.channels.GetByID(ctx, channelID, organizationID)
	if err != nil {
		return nil, err
	}
	adapter, ok := s.providers.Lookup(channel.Provider)
	if !ok {
		return nil, apperr.Validation("unknown provider: " + channel.Provider)
	}
	raw := adapter.BuildMockPayload(from, senderName, text)
	return s.Ingest(ctx, organizationID, channelID, channel.Provider, raw)
}

// ResolveChannelOrganization looks up a channel without organization
// scoping, for unauthenticated webhook ingress that must derive the
// tenant from the URL's channel id alone.
func (s *Service) ResolveChannelOrganization(ctx context.Context, channelID uuid.UUID) (*channelsrepo.Channel, error) {
	return s.channels.GetByIDAny(ctx, channelID)
}

// IngestInbound is the jobs.Messaging interface implementation: the
// async, queue-driven wrapper around Ingest used by real provider
// webhooks (enqueued after signature verification so retry/dead-letter
// applies per spec.md §4.1's inbound failure policy).
func (s *Service) IngestInbound(ctx context.Context, payload jobs.InboundEventPayload) error {
	organizationID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return fmt.Errorf("invalid organization id: %w", err)
	}
	channelID, err := uuid.Parse(payload.ChannelID)
	if err != nil {
		return fmt.Errorf("invalid channel id: %w", err)
	}

	_, err = s.Ingest(ctx, organizationID, channelID, payload.Provider, payload.RawBody)
	return err
}

// Enqueue is the public contract's SendOutbound: it creates a Message
// row in status "pending" carrying the given linkage, then enqueues the
// outbound.messages job that performs the actual provider delivery
// (jobs.Messaging.SendOutbound, see below). Named Enqueue rather than
// SendOutbound because asynq's handler-side delivery already claims
// that exact method name on this same type.
func (s *Service) EnqueueForContact(ctx context.Context, organizationID, channelID, contactID uuid.UUID, text string, linkage Linkage) (*repository.Message, error) {
	conversation, err := s.repo.GetOrCreateConversation(ctx, organizationID, contactID, channelID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.Enqueue(ctx, organizationID, channelID, conversation.ID, text, linkage)
}

func (s *Service) Enqueue(ctx context.Context, organizationID, channelID uuid.UUID, conversationID uuid.UUID, text string, linkage Linkage) (*repository.Message, error) {
	now := time.Now().UTC()
	message := &repository.Message{
		ID:               uuid.New(),
		OrganizationID:   organizationID,
		ConversationID:   conversationID,
		ChannelID:        channelID,
		Direction:        "out",
		Text:             text,
		Status:           "pending",
		CampaignSendID:   linkage.CampaignSendID,
		JourneyRunStepID: linkage.JourneyRunStepID,
		ReceivedAt:       now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := s.repo.CreateMessage(ctx, message); err != nil {
		return nil, err
	}

	var campaignID, journeyRunID *string
	if linkage.CampaignSendID != nil {
		v := linkage.CampaignSendID.String()
		campaignID = &v
	}
	if linkage.JourneyRunStepID != nil {
		v := linkage.JourneyRunStepID.String()
		journeyRunID = &v
	}

	payload := jobs.OutboundMessagePayload{
		OrganizationID: organizationID.String(),
		MessageID:      message.ID.String(),
		ConversationID: conversationID.String(),
		ChannelID:      channelID.String(),
		CampaignID:     campaignID,
		JourneyRunID:   journeyRunID,
	}
	if err := s.jobs.EnqueueOutboundMessage(ctx, payload); err != nil {
		return nil, apperr.TransientDependency("failed to enqueue outbound message", err)
	}
	return message, nil
}

// SendOutbound is the jobs.Messaging interface implementation: the
// worker-side handler for the outbound.messages queue that actually
// calls the provider adapter, per spec.md §4.1's "Outbound send
// semantics".
func (s *Service) SendOutbound(ctx context.Context, payload jobs.OutboundMessagePayload) error {
	organizationID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return fmt.Errorf("invalid organization id: %w", err)
	}
	messageID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}
	channelID, err := uuid.Parse(payload.ChannelID)
	if err != nil {
		return fmt.Errorf("invalid channel id: %w", err)
	}

	message, err := s.repo.GetByID(ctx, messageID, organizationID)
	if err != nil {
		return err
	}
	if message.Status == "failed" {
		return nil
	}

	channel, err := s.channels.GetByID(ctx, channelID, organizationID)
	if err != nil {
		return err
	}
	adapter, ok := s.providers.Lookup(channel.Provider)
	if !ok {
		return apperr.Validation("unknown provider: " + channel.Provider)
	}
	if !adapter.CanSend() {
		return apperr.Validation("provider does not support sending: " + channel.Provider)
	}

	conversation, err := s.repo.GetConversationByID(ctx, message.ConversationID, organizationID)
	if err != nil {
		return err
	}
	contact, err := s.repo.GetContactByID(ctx, conversation.ContactID, organizationID)
	if err != nil {
		return err
	}
	to := contact.SenderExternalID

	providerMessageID, sendErr := adapter.SendText(ctx, channel.Config, to, message.Text)
	attempts := message.Attempts + 1
	if sendErr != nil {
		status := "pending"
		var errMsg *string
		msg := sendErr.Error()
		errMsg = &msg
		if attempts >= 3 {
			status = "failed"
		}
		if err := s.repo.UpdateStatus(ctx, message.ID, status, nil, attempts, errMsg); err != nil {
			return err
		}
		if status == "failed" {
			s.bus.Publish(ctx, events.MessageStatusUpdated{
				BaseEvent:      events.NewBaseEvent(),
				OrganizationID: organizationID,
				MessageID:      message.ID,
				Status:         status,
			})
		}
		return sendErr
	}

	if err := s.repo.UpdateStatus(ctx, message.ID, "sent", &providerMessageID, attempts, nil); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.MessageSent{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: organizationID,
		ChannelID:      channelID,
		ConversationID: message.ConversationID,
		MessageID:      message.ID,
	})
	s.bus.Publish(ctx, events.MessageStatusUpdated{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: organizationID,
		MessageID:      message.ID,
		Status:         "sent",
	})
	return nil
}

// ReconcileStatus is the jobs.Messaging interface implementation: it
// resolves a provider status callback by provider_message_id and
// applies a monotonic status update, per I1 and P7 (idempotent dedup
// of repeated identical callbacks).
func (s *Service) ReconcileStatus(ctx context.Context, payload jobs.WhatsAppStatusPayload) error {
	organizationID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return fmt.Errorf("invalid organization id: %w", err)
	}
	channelID, err := uuid.Parse(payload.ChannelID)
	if err != nil {
		return fmt.Errorf("invalid channel id: %w", err)
	}

	adapter, ok := s.providers.Lookup(payload.Provider)
	if !ok {
		return apperr.Validation("unknown provider: " + payload.Provider)
	}

	update, err := adapter.ParseStatus(ctx, payload.RawBody)
	if err != nil {
		return err
	}
	if update.Status == "" {
		s.log.Warn("ignoring unrecognized provider status", "provider", payload.Provider)
		return nil
	}

	message, err := s.repo.GetMessageByProviderMessageID(ctx, channelID, update.ProviderMessageID)
	if apperr.GetKind(err) == apperr.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if !statusTransitionAllowed(message.Status, update.Status) {
		return nil
	}

	if err := s.repo.UpdateStatus(ctx, message.ID, update.Status, nil, message.Attempts, nil); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.MessageStatusUpdated{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: organizationID,
		MessageID:      message.ID,
		Status:         update.Status,
	})
	return nil
}

// GetMessage returns a message scoped to its organization, used by
// campaign/journey subscribers to resolve a status-changed message's
// linkage (campaign_send_id / journey_run_step_id).
func (s *Service) GetMessage(ctx context.Context, id, organizationID uuid.UUID) (*repository.Message, error) {
	return s.repo.GetByID(ctx, id, organizationID)
}

// ListConversationIDsByContact returns every conversation id for a
// contact, used by analytics to scope a lead's touchpoint window.
func (s *Service) ListConversationIDsByContact(ctx context.Context, organizationID, contactID uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.ListConversationIDsByContact(ctx, organizationID, contactID)
}

// ListOutboundForLead returns outbound messages across a set of
// conversations within a time window, used by analytics to build a
// lead's attribution touchpoint set.
func (s *Service) ListOutboundForLead(ctx context.Context, organizationID uuid.UUID, conversationIDs []uuid.UUID, from, to time.Time) ([]repository.Message, error) {
	return s.repo.ListOutboundForLead(ctx, organizationID, conversationIDs, from, to)
}

// statusTransitionAllowed enforces I1: no Message transitions out of
// failed; failed is mutually exclusive with delivered/read; all other
// transitions must strictly advance the pending -> sent -> delivered ->
// read rank.
func statusTransitionAllowed(current, next string) bool {
	if current == "failed" {
		return false
	}
	if next == "failed" {
		return current != "delivered" && current != "read"
	}
	currentRank, ok := statusRank[current]
	if !ok {
		return true
	}
	nextRank, ok := statusRank[next]
	if !ok {
		return false
	}
	return nextRank > currentRank
}

var _ jobs.Messaging = (*Service)(nil)
