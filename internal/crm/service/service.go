// Package service implements the CRM field-mapping configuration and
// outbound webhook delivery: an organization's CRM integration is
// spec'd at interface level only (field-mapping preview/UI ergonomics
// are out of scope), so this module owns just enough to let other
// cores fire a DeliverWebhook job and have it land, remapped, at the
// organization's configured endpoint.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/omnireach/core/internal/crm/repository"
	"github.com/omnireach/core/internal/jobs"
	leadsservice "github.com/omnireach/core/internal/leads/service"
	"github.com/omnireach/core/platform/apperr"
	"github.com/omnireach/core/platform/logger"

	"github.com/google/uuid"
)

const (
	webhookMaxAttempts = 3
	webhookTimeout     = 10 * time.Second
)

// Service implements the crm mapping and webhook delivery orchestrator.
type Service struct {
	repo  *repository.Repository
	leads *leadsservice.Service
	http  *http.Client
	log   *logger.Logger
}

// New creates a new crm service.
func New(repo *repository.Repository, leads *leadsservice.Service, log *logger.Logger) *Service {
	return &Service{repo: repo, leads: leads, http: &http.Client{Timeout: webhookTimeout}, log: log}
}

// GetMapping returns an organization's CRM mapping configuration.
func (s *Service) GetMapping(ctx context.Context, organizationID uuid.UUID) (*repository.Mapping, error) {
	return s.repo.GetMapping(ctx, organizationID)
}

// PutMapping upserts an organization's CRM mapping configuration.
func (s *Service) PutMapping(ctx context.Context, organizationID uuid.UUID, webhookURL *string, fieldMapping map[string]string) (*repository.Mapping, error) {
	if fieldMapping == nil {
		fieldMapping = map[string]string{}
	}
	m := repository.Mapping{OrganizationID: organizationID, WebhookURL: webhookURL, FieldMapping: fieldMapping}
	if err := s.repo.PutMapping(ctx, m); err != nil {
		return nil, err
	}
	return s.repo.GetMapping(ctx, organizationID)
}

// PreviewMapping applies an organization's field mapping to a sample
// payload without delivering it, so callers can verify the remapped
// shape before saving it.
func (s *Service) PreviewMapping(ctx context.Context, organizationID uuid.UUID, sample map[string]any) (map[string]any, error) {
	m, err := s.repo.GetMapping(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	return applyFieldMapping(sample, m.FieldMapping), nil
}

// DeliverWebhook renames the payload's top-level keys per the
// organization's field mapping and POSTs it to the configured webhook
// URL with a ×3 exponential backoff retry. Satisfies jobs.CRM. A
// missing webhook URL is not an error: the organization simply has no
// CRM integration configured, so the event is silently dropped.
func (s *Service) DeliverWebhook(ctx context.Context, payload jobs.CRMWebhookPayload) error {
	organizationID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return fmt.Errorf("parse crm webhook organization id: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(payload.Data, &data); err != nil {
		return apperr.Validation("crm webhook data is not a JSON object")
	}

	return s.deliver(ctx, organizationID, payload.Event, data)
}

// ValidateMapping reports whether an organization's CRM mapping is
// well-formed enough to deliver against: a configured webhook URL and
// a non-nil (possibly empty) field mapping. It performs no delivery.
func (s *Service) ValidateMapping(ctx context.Context, organizationID uuid.UUID) error {
	mapping, err := s.repo.GetMapping(ctx, organizationID)
	if err != nil {
		return err
	}
	if mapping.WebhookURL == nil || *mapping.WebhookURL == "" {
		return apperr.Validation("no webhook url configured")
	}
	if mapping.FieldMapping == nil {
		return apperr.Validation("field mapping is missing")
	}
	return nil
}

// DeliverLeadSync pushes a lead's current CRM-relevant fields to the
// organization's configured webhook, immediately rather than through
// the job queue, so a caller gets a synchronous delivery result.
func (s *Service) DeliverLeadSync(ctx context.Context, organizationID, leadID uuid.UUID) error {
	lead, err := s.leads.GetByID(ctx, leadID, organizationID)
	if err != nil {
		return err
	}
	data := map[string]any{
		"id":          lead.ID.String(),
		"contactId":   lead.ContactID.String(),
		"stage":       lead.Stage,
		"tags":        lead.Tags,
		"score":       lead.Score,
		"convertedAt": lead.ConvertedAt,
	}
	return s.deliver(ctx, organizationID, "lead.sync", data)
}

// RecordRevenue forwards a revenue payload to the organization's
// connected CRM. Unlike analytics.RecordRevenue (which books an
// attribution/rollup entry), this is a one-way sync call with no
// local bookkeeping of its own.
func (s *Service) RecordRevenue(ctx context.Context, organizationID uuid.UUID, data map[string]any) error {
	return s.deliver(ctx, organizationID, "revenue.recorded", data)
}

// deliver remaps data per the organization's field mapping and POSTs
// it to the configured webhook with a ×3 exponential backoff retry. A
// missing webhook URL is not an error: the organization simply has no
// CRM integration configured, so the event is silently dropped.
func (s *Service) deliver(ctx context.Context, organizationID uuid.UUID, event string, data map[string]any) error {
	mapping, err := s.repo.GetMapping(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("load crm mapping: %w", err)
	}
	if mapping.WebhookURL == nil || *mapping.WebhookURL == "" {
		return nil
	}
	remapped := applyFieldMapping(data, mapping.FieldMapping)

	body, err := json.Marshal(map[string]any{"event": event, "data": remapped})
	if err != nil {
		return fmt.Errorf("marshal crm webhook body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < webhookMaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt))
		}
		if err := s.post(ctx, *mapping.WebhookURL, body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("crm webhook delivery failed after %d attempts: %w", webhookMaxAttempts, lastErr)
}

func (s *Service) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build crm webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("crm webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// applyFieldMapping renames top-level keys of src according to
// mapping (src key -> destination key). Keys absent from the mapping
// pass through unchanged.
func applyFieldMapping(src map[string]any, mapping map[string]string) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		if renamed, ok := mapping[k]; ok {
			out[renamed] = v
			continue
		}
		out[k] = v
	}
	return out
}

func backoff(attempt int) time.Duration {
	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

var _ jobs.CRM = (*Service)(nil)
