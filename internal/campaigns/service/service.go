// Package service implements the C3 campaign orchestrator: audience
// segmentation, scheduling, the periodic materialization tick, and the
// per-send state machine driven by outbound Message status updates.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/omnireach/core/internal/campaigns/repository"
	"github.com/omnireach/core/internal/events"
	"github.com/omnireach/core/internal/jobs"
	leadsrepo "github.com/omnireach/core/internal/leads/repository"
	leadsservice "github.com/omnireach/core/internal/leads/service"
	messagingservice "github.com/omnireach/core/internal/messaging/service"
	"github.com/omnireach/core/platform/apperr"
	"github.com/omnireach/core/platform/logger"

	"github.com/google/uuid"
)

const (
	statusDraft     = "draft"
	statusScheduled = "scheduled"
	statusRunning   = "running"
	statusCompleted = "completed"
	statusCancelled = "cancelled"

	sendStatusPending = "pending"
	sendStatusSent    = "sent"
	sendStatusFailed  = "failed"
	sendStatusSkipped = "skipped"

	// claimBatchSize bounds how many due campaigns one tick materializes,
	// so a single scheduler pass cannot monopolize the worker pool.
	claimBatchSize = 25
)

// Service implements the campaign orchestrator's domain operations.
type Service struct {
	repo      *repository.Repository
	leads     *leadsservice.Service
	messaging *messagingservice.Service
	jobs      *jobs.Client
	bus       events.Bus
	log       *logger.Logger
}

// New creates a new campaigns service.
func New(repo *repository.Repository, leads *leadsservice.Service, messaging *messagingservice.Service, jobsClient *jobs.Client, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, leads: leads, messaging: messaging, jobs: jobsClient, bus: bus, log: log}
}

// Create inserts a new campaign in status "draft".
func (s *Service) Create(ctx context.Context, organizationID, channelID uuid.UUID, name, messageText string, segment leadsrepo.Segment) (*repository.Campaign, error) {
	now := time.Now().UTC()
	c := &repository.Campaign{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		ChannelID:      channelID,
		Name:           name,
		MessageText:    messageText,
		Segment:        segment,
		Status:         statusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns every campaign for an organization.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID) ([]repository.Campaign, error) {
	return s.repo.List(ctx, organizationID)
}

// GetByID returns a single campaign scoped to its organization.
func (s *Service) GetByID(ctx context.Context, id, organizationID uuid.UUID) (*repository.Campaign, error) {
	return s.repo.GetByID(ctx, id, organizationID)
}

// CampaignIDForMessage resolves the campaign a given outbound Message
// belongs to, if any, for analytics' revenue-attribution fallback
// chain (spec: RevenueEvent falls back to the lead's last_touch
// Attribution touchpoint when no campaign_id is provided directly).
func (s *Service) CampaignIDForMessage(ctx context.Context, messageID uuid.UUID) (*uuid.UUID, error) {
	send, err := s.repo.GetSendByMessageID(ctx, messageID)
	if apperr.GetKind(err) == apperr.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &send.CampaignID, nil
}

// PreviewAudience returns the segment's current matching lead count.
func (s *Service) PreviewAudience(ctx context.Context, organizationID uuid.UUID, segment leadsrepo.Segment) (int, error) {
	return s.leads.PreviewAudience(ctx, organizationID, segment)
}

// ScheduleCampaign transitions a draft campaign to scheduled with a
// future schedule_at.
func (s *Service) ScheduleCampaign(ctx context.Context, id, organizationID uuid.UUID, scheduleAt time.Time) error {
	if !scheduleAt.After(time.Now().UTC()) {
		return apperr.Validation("schedule_at must be in the future")
	}
	return s.repo.UpdateStatusGuarded(ctx, id, organizationID, statusDraft, statusScheduled, &scheduleAt)
}

// CancelCampaign marks a campaign cancelled unless it already completed.
func (s *Service) CancelCampaign(ctx context.Context, id, organizationID uuid.UUID) error {
	campaign, err := s.repo.GetByID(ctx, id, organizationID)
	if err != nil {
		return err
	}
	if campaign.Status == statusCompleted {
		return apperr.Conflict("campaign already completed")
	}
	if campaign.Status == statusCancelled {
		return nil
	}
	return s.repo.UpdateStatusGuarded(ctx, id, organizationID, campaign.Status, statusCancelled, nil)
}

// UpdateROI sets a campaign's cost/revenue for ROI reporting.
func (s *Service) UpdateROI(ctx context.Context, id, organizationID uuid.UUID, costCents, revenueCents *int64) error {
	return s.repo.UpdateROI(ctx, id, organizationID, costCents, revenueCents)
}

// ListSends returns every CampaignSend for a campaign.
func (s *Service) ListSends(ctx context.Context, campaignID uuid.UUID) ([]repository.CampaignSend, error) {
	return s.repo.ListByCampaign(ctx, campaignID)
}

// TickScheduler is the periodic poller entry point: it claims every
// scheduled campaign whose schedule_at is due, materializes its
// audience into CampaignSend rows, and enqueues a campaign.sends job
// per recipient. Individual campaign failures are logged and do not
// abort the tick, per spec.md §4.3's failure policy.
func (s *Service) TickScheduler(ctx context.Context) error {
	due, err := s.repo.ClaimDue(ctx, time.Now().UTC(), claimBatchSize)
	if err != nil {
		return fmt.Errorf("claim due campaigns: %w", err)
	}
	for _, campaign := range due {
		if err := s.materialize(ctx, campaign); err != nil {
			s.log.Error("campaign materialization failed", "campaignId", campaign.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) materialize(ctx context.Context, campaign repository.Campaign) error {
	audience, err := s.leads.Audience(ctx, campaign.OrganizationID, campaign.Segment)
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	var queued, skipped int
	now := time.Now().UTC()
	for _, lead := range audience {
		send := &repository.CampaignSend{
			ID:             uuid.New(),
			OrganizationID: campaign.OrganizationID,
			CampaignID:     campaign.ID,
			LeadID:         lead.ID,
			Status:         sendStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if isOptedOut(&lead) {
			send.Status = sendStatusSkipped
			created, err := s.repo.CreateSend(ctx, send)
			if err != nil {
				return err
			}
			if created {
				skipped++
			}
			continue
		}

		created, err := s.repo.CreateSend(ctx, send)
		if err != nil {
			return err
		}
		if !created {
			continue
		}
		queued++
		payload := jobs.CampaignSendPayload{
			OrganizationID: campaign.OrganizationID.String(),
			CampaignID:     campaign.ID.String(),
			SendID:         send.ID.String(),
			LeadID:         lead.ID.String(),
		}
		if err := s.jobs.EnqueueCampaignSend(ctx, payload); err != nil {
			return fmt.Errorf("enqueue campaign send: %w", err)
		}
	}

	if err := s.repo.IncrementCounters(ctx, campaign.ID, queued, 0, 0, skipped); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.CampaignScheduled{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: campaign.OrganizationID,
		CampaignID:     campaign.ID,
		Audience:       len(audience),
	})
	// An empty audience or an audience that is entirely opted-out both
	// leave every CampaignSend terminal with nothing left to process, so
	// MaybeComplete must run regardless of queued count, not just when
	// the audience itself was empty.
	return s.repo.MaybeComplete(ctx, campaign.ID)
}

// ProcessSend is the jobs.Campaigns interface implementation: the
// worker-side handler for the campaign.sends queue. It re-validates the
// lead against the segment and any opt-out flag at send time (audience
// membership can change between materialization and processing), then
// hands off to the messaging pipeline's enqueue path with CampaignSend
// linkage so the outbound Message's eventual status drives this send's
// completion.
func (s *Service) ProcessSend(ctx context.Context, payload jobs.CampaignSendPayload) error {
	organizationID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return fmt.Errorf("invalid organization id: %w", err)
	}
	campaignID, err := uuid.Parse(payload.CampaignID)
	if err != nil {
		return fmt.Errorf("invalid campaign id: %w", err)
	}
	sendID, err := uuid.Parse(payload.SendID)
	if err != nil {
		return fmt.Errorf("invalid send id: %w", err)
	}
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return fmt.Errorf("invalid lead id: %w", err)
	}

	send, err := s.repo.GetSend(ctx, sendID)
	if err != nil {
		return err
	}
	if send.Status != sendStatusPending {
		return nil
	}

	campaign, err := s.repo.GetByID(ctx, campaignID, organizationID)
	if err != nil {
		return err
	}
	lead, err := s.leads.GetByID(ctx, leadID, organizationID)
	if err != nil {
		return err
	}

	if isOptedOut(lead) || !s.stillMatchesSegment(ctx, campaign, *lead) {
		if ok, err := s.repo.UpdateSendStatus(ctx, sendID, sendStatusSkipped, nil, nil); err != nil {
			return err
		} else if ok {
			if err := s.repo.IncrementCounters(ctx, campaignID, 0, 0, 0, 1); err != nil {
				return err
			}
			s.publishSendCompleted(ctx, campaign, send.LeadID, sendStatusSkipped)
		}
		return s.repo.MaybeComplete(ctx, campaignID)
	}

	message, err := s.messaging.EnqueueForContact(ctx, organizationID, campaign.ChannelID, lead.ContactID,
		campaign.MessageText, messagingservice.Linkage{CampaignSendID: &sendID})
	if err != nil {
		return err
	}

	return s.repo.AttachMessage(ctx, sendID, message.ID)
}

// OnMessageStatusUpdated reacts to a MessageStatusUpdated event: when
// the message is linked to a CampaignSend and reaches a terminal state,
// it transitions the send and bumps the campaign's counters. Subscribed
// by module.go rather than called directly, so C1 never imports C3.
func (s *Service) OnMessageStatusUpdated(ctx context.Context, organizationID, messageID uuid.UUID, status string) error {
	if status != sendStatusSent && status != sendStatusFailed {
		return nil
	}
	send, err := s.repo.GetSendByMessageID(ctx, messageID)
	if apperr.GetKind(err) == apperr.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if send.Status != sendStatusPending {
		return nil
	}

	ok, err := s.repo.UpdateSendStatus(ctx, send.ID, status, &messageID, nil)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	sentDelta, failedDelta := 0, 0
	if status == sendStatusSent {
		sentDelta = 1
	} else {
		failedDelta = 1
	}
	if err := s.repo.IncrementCounters(ctx, send.CampaignID, 0, sentDelta, failedDelta, 0); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.CampaignSendCompleted{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: organizationID,
		CampaignID:     send.CampaignID,
		LeadID:         send.LeadID,
		Status:         status,
	})
	return s.repo.MaybeComplete(ctx, send.CampaignID)
}

func (s *Service) publishSendCompleted(ctx context.Context, campaign *repository.Campaign, leadID uuid.UUID, status string) {
	s.bus.Publish(ctx, events.CampaignSendCompleted{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: campaign.OrganizationID,
		CampaignID:     campaign.ID,
		LeadID:         leadID,
		Status:         status,
	})
}

// stillMatchesSegment re-checks a single lead against the campaign's
// segment at send time. Re-running PreviewAudience-style filtering on
// one lead rather than the whole table keeps ProcessSend O(1) per send.
func (s *Service) stillMatchesSegment(ctx context.Context, campaign *repository.Campaign, lead leadsrepo.Lead) bool {
	seg := campaign.Segment
	if len(seg.StageIn) > 0 && !containsString(seg.StageIn, lead.Stage) {
		return false
	}
	if len(seg.TagsAny) > 0 && !intersectsString(seg.TagsAny, lead.Tags) {
		return false
	}
	if len(seg.TagsAll) > 0 && !containsAllString(lead.Tags, seg.TagsAll) {
		return false
	}
	if len(seg.SourceIn) > 0 && !containsString(seg.SourceIn, lead.Source) {
		return false
	}
	if seg.LastActiveWithinDays != nil {
		cutoff := time.Now().UTC().Add(-time.Duration(*seg.LastActiveWithinDays) * 24 * time.Hour)
		if lead.LastActivityAt.Before(cutoff) {
			return false
		}
	}
	return true
}

func isOptedOut(lead *leadsrepo.Lead) bool {
	if lead == nil || lead.Metadata == nil {
		return false
	}
	v, ok := lead.Metadata["opted_out"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

func intersectsString(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	for _, v := range a {
		if set[v] {
			return true
		}
	}
	return false
}

func containsAllString(haystack, needles []string) bool {
	set := make(map[string]bool, len(haystack))
	for _, v := range haystack {
		set[v] = true
	}
	for _, n := range needles {
		if !set[n] {
			return false
		}
	}
	return true
}

var _ jobs.Campaigns = (*Service)(nil)
