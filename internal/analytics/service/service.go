// Package service implements the C5 attribution and analytics
// orchestrator: conversion-triggered credit splitting, revenue
// attachment, daily rollups, and the read-side query methods behind
// GET /v1/analytics/* and GET /v1/attribution/report.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/omnireach/core/internal/analytics/repository"
	"github.com/omnireach/core/internal/attribution"
	campaignsservice "github.com/omnireach/core/internal/campaigns/service"
	"github.com/omnireach/core/internal/jobs"
	leadsservice "github.com/omnireach/core/internal/leads/service"
	messagingservice "github.com/omnireach/core/internal/messaging/service"
	"github.com/omnireach/core/platform/apperr"
	"github.com/omnireach/core/platform/logger"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// Service implements the analytics and attribution orchestrator.
type Service struct {
	repo      *repository.Repository
	messaging *messagingservice.Service
	campaigns *campaignsservice.Service
	leads     *leadsservice.Service
	log       *logger.Logger
}

// New creates a new analytics service.
func New(repo *repository.Repository, messaging *messagingservice.Service, campaigns *campaignsservice.Service, leads *leadsservice.Service, log *logger.Logger) *Service {
	return &Service{repo: repo, messaging: messaging, campaigns: campaigns, leads: leads, log: log}
}

// OnConversionRecorded builds the touchpoint set for a lead's most
// recent conversion and writes the model's credit split. Subscribed
// from module.go on "attribution.conversion.recorded".
func (s *Service) OnConversionRecorded(ctx context.Context, organizationID, leadID uuid.UUID, revenueCents *int64, occurredAt time.Time) error {
	settings, err := s.repo.GetSettings(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("load analytics settings: %w", err)
	}

	credits, err := s.splitTouchpoints(ctx, organizationID, leadID, attribution.Model(settings.AttributionModel), settings.LookbackDays, occurredAt)
	if err != nil {
		return err
	}
	if len(credits) == 0 {
		return nil
	}

	rows := make([]repository.Attribution, 0, len(credits))
	for _, c := range credits {
		var amount *int64
		if revenueCents != nil {
			v := int64(float64(*revenueCents) * c.Weight)
			amount = &v
		}
		rows = append(rows, repository.Attribution{
			ID:             uuid.New(),
			OrganizationID: organizationID,
			LeadID:         leadID,
			ConversionAt:   occurredAt,
			Model:          settings.AttributionModel,
			TouchpointRef:  c.TouchpointRef,
			Weight:         c.Weight,
			AmountCredit:   amount,
		})
	}
	return s.repo.UpsertAttributions(ctx, rows)
}

// splitTouchpoints loads the lead's outbound messages in the lookback
// window, converts them to attribution touchpoints, and applies the
// model's credit split. A journey send_message step is never counted
// as a touchpoint independent of the Message it created: executeStep
// always routes a send through the same messaging pipeline, so the
// outbound Message listing already covers every send regardless of
// origin (campaign, journey, or manual). attribution.Dedup is applied
// defensively in case that invariant is ever violated.
func (s *Service) splitTouchpoints(ctx context.Context, organizationID, leadID uuid.UUID, model attribution.Model, lookbackDays int, occurredAt time.Time) ([]attribution.Credit, error) {
	lead, err := s.leads.GetByID(ctx, leadID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("load lead for touchpoint scope: %w", err)
	}

	conversationIDs, err := s.messaging.ListConversationIDsByContact(ctx, organizationID, lead.ContactID)
	if err != nil {
		return nil, fmt.Errorf("list lead conversations: %w", err)
	}
	if len(conversationIDs) == 0 {
		return nil, nil
	}

	from := occurredAt.Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	messages, err := s.messaging.ListOutboundForLead(ctx, organizationID, conversationIDs, from, occurredAt)
	if err != nil {
		return nil, fmt.Errorf("list outbound touchpoints: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	points := make([]attribution.Touchpoint, 0, len(messages))
	for _, m := range messages {
		kind := attribution.TouchpointMessage
		if m.JourneyRunStepID != nil {
			kind = attribution.TouchpointJourneyStep
		}
		points = append(points, attribution.Touchpoint{
			Ref:       m.ID.String(),
			Kind:      kind,
			MessageID: m.ID,
			Timestamp: m.ReceivedAt,
		})
	}

	points = attribution.Sort(points)
	points = attribution.Dedup(points)
	return attribution.Split(points, model), nil
}

// RecordRevenue persists a revenue event and, when the event is new and
// names a lead, back-fills amount_credit on the lead's matching
// attribution rows. campaignID falls back to the campaign behind the lead's most
// recent last_touch touchpoint when the caller doesn't supply one
// directly, per spec.md §4.5's revenue-attachment rule.
func (s *Service) RecordRevenue(ctx context.Context, organizationID uuid.UUID, leadID *uuid.UUID, campaignID *uuid.UUID, amountCents int64, currency string, externalID *string, receivedAt time.Time) (bool, error) {
	if campaignID == nil && leadID != nil {
		resolved, err := s.resolveCampaignFromLastTouch(ctx, organizationID, *leadID, receivedAt)
		if err != nil {
			return false, err
		}
		campaignID = resolved
	}

	ev := &repository.RevenueEvent{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		LeadID:         leadID,
		CampaignID:     campaignID,
		AmountCents:    amountCents,
		Currency:       currency,
		ExternalID:     externalID,
		ReceivedAt:     receivedAt,
	}
	inserted, err := s.repo.CreateRevenueEvent(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("create revenue event: %w", err)
	}
	if !inserted || leadID == nil {
		return inserted, nil
	}

	settings, err := s.repo.GetSettings(ctx, organizationID)
	if err != nil {
		return true, fmt.Errorf("load analytics settings for revenue backfill: %w", err)
	}
	if err := s.repo.SetAttributionAmounts(ctx, *leadID, receivedAt, settings.AttributionModel, amountCents); err != nil {
		return true, fmt.Errorf("backfill attribution amounts: %w", err)
	}
	return true, nil
}

func (s *Service) resolveCampaignFromLastTouch(ctx context.Context, organizationID, leadID uuid.UUID, at time.Time) (*uuid.UUID, error) {
	settings, err := s.repo.GetSettings(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("load analytics settings: %w", err)
	}
	lastTouch, err := s.repo.LatestLastTouch(ctx, organizationID, leadID, time.Duration(settings.LookbackDays)*24*time.Hour, at)
	if apperr.GetKind(err) == apperr.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last touch attribution: %w", err)
	}

	messageID, err := uuid.Parse(lastTouch.TouchpointRef)
	if err != nil {
		return nil, nil
	}
	return s.campaigns.CampaignIDForMessage(ctx, messageID)
}

// RollupMetrics recomputes the analytics_daily rows for every
// organization for the payload's window. Satisfies jobs.Analytics.
func (s *Service) RollupMetrics(ctx context.Context, payload jobs.AnalyticsMetricPayload) error {
	date, err := parseWindow(payload.Window)
	if err != nil {
		return fmt.Errorf("parse rollup window: %w", err)
	}
	from := date
	to := date.AddDate(0, 0, 1)

	if payload.OrganizationID != "" {
		orgID, err := uuid.Parse(payload.OrganizationID)
		if err != nil {
			return fmt.Errorf("parse rollup organization id: %w", err)
		}
		return s.rollupOrg(ctx, orgID, date, from, to)
	}

	orgIDs, err := s.repo.ListOrganizationIDs(ctx)
	if err != nil {
		return fmt.Errorf("list organizations for rollup: %w", err)
	}
	for _, orgID := range orgIDs {
		if err := s.rollupOrg(ctx, orgID, date, from, to); err != nil {
			s.log.Error("rollup organization failed", "organization_id", orgID, "error", err)
		}
	}
	return nil
}

func (s *Service) rollupOrg(ctx context.Context, organizationID uuid.UUID, date, from, to time.Time) error {
	rows, err := s.repo.RollupOrg(ctx, organizationID, date, from, to)
	if err != nil {
		return fmt.Errorf("compute rollup: %w", err)
	}
	for _, row := range rows {
		if err := s.repo.UpsertDaily(ctx, row); err != nil {
			return fmt.Errorf("upsert rollup row: %w", err)
		}
	}
	return nil
}

func parseWindow(window string) (time.Time, error) {
	if window == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse(dateLayout, window)
}

// Summary returns org-level rollup rows for a date range.
func (s *Service) Summary(ctx context.Context, organizationID uuid.UUID, from, to time.Time) ([]repository.DailyMetrics, error) {
	return s.repo.ListDaily(ctx, organizationID, from, to, nil, nil)
}

// Channel returns per-channel rollup rows for a date range.
func (s *Service) Channel(ctx context.Context, organizationID, channelID uuid.UUID, from, to time.Time) ([]repository.DailyMetrics, error) {
	return s.repo.ListDaily(ctx, organizationID, from, to, &channelID, nil)
}

// Campaign returns per-campaign rollup rows for a date range.
func (s *Service) Campaign(ctx context.Context, organizationID, campaignID uuid.UUID, from, to time.Time) ([]repository.DailyMetrics, error) {
	return s.repo.ListDaily(ctx, organizationID, from, to, nil, &campaignID)
}

// AttributionReport returns every attribution row for an organization
// under a model within a date range, for GET /v1/attribution/report.
func (s *Service) AttributionReport(ctx context.Context, organizationID uuid.UUID, model string, from, to time.Time) ([]repository.Attribution, error) {
	return s.repo.ListReport(ctx, organizationID, model, from, to)
}

// GetSettings returns an organization's attribution configuration.
func (s *Service) GetSettings(ctx context.Context, organizationID uuid.UUID) (*repository.Settings, error) {
	return s.repo.GetSettings(ctx, organizationID)
}

// PutSettings updates an organization's attribution configuration.
func (s *Service) PutSettings(ctx context.Context, organizationID uuid.UUID, model string, lookbackDays int) (*repository.Settings, error) {
	if model != string(attribution.ModelFirstTouch) && model != string(attribution.ModelLastTouch) && model != string(attribution.ModelLinear) {
		return nil, apperr.Validation("unknown attribution model: " + model)
	}
	if lookbackDays <= 0 {
		return nil, apperr.Validation("lookback_days must be positive")
	}
	settings := repository.Settings{OrganizationID: organizationID, AttributionModel: model, LookbackDays: lookbackDays}
	if err := s.repo.PutSettings(ctx, settings); err != nil {
		return nil, err
	}
	return s.repo.GetSettings(ctx, organizationID)
}

var _ jobs.Analytics = (*Service)(nil)
