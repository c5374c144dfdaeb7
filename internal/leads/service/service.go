// Package service implements the leads module's business logic: lead
// creation from contacts, rule-driven mutation via internal/leadrules,
// and conversion detection.
package service

import (
	"context"
	"time"

	"github.com/omnireach/core/internal/events"
	"github.com/omnireach/core/internal/leadrules"
	"github.com/omnireach/core/internal/leads/repository"
	"github.com/omnireach/core/platform/apperr"

	"github.com/google/uuid"
)

const stageConverted = "converted"

// Service implements the lead rule engine's domain operations.
type Service struct {
	repo *repository.Repository
	bus  events.Bus
}

// New creates a new leads service.
func New(repo *repository.Repository, bus events.Bus) *Service {
	return &Service{repo: repo, bus: bus}
}

// ListFilter narrows GET /v1/leads results.
type ListFilter = repository.ListFilter

// List returns leads for an organization matching filter.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID, filter ListFilter) ([]repository.Lead, int, error) {
	return s.repo.List(ctx, organizationID, filter)
}

// GetByID returns a single lead scoped to its organization.
func (s *Service) GetByID(ctx context.Context, id, organizationID uuid.UUID) (*repository.Lead, error) {
	return s.repo.GetByID(ctx, id, organizationID)
}

// GetOrCreateForContact returns the lead owned by a contact, creating one
// in stage "new" if the contact has not yet been promoted. This is the
// entry point the messaging pipeline (C1) calls after persisting an
// inbound message, before rule evaluation runs.
func (s *Service) GetOrCreateForContact(ctx context.Context, organizationID, contactID uuid.UUID, source string) (*repository.Lead, error) {
	lead, err := s.repo.GetByContactID(ctx, contactID, organizationID)
	if err == nil {
		return lead, nil
	}
	if apperr.GetKind(err) != apperr.KindNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	lead = &repository.Lead{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		ContactID:      contactID,
		Stage:          "new",
		Tags:           []string{},
		Score:          0,
		Source:         source,
		Metadata:       map[string]any{},
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// RecordSignals appends signals to a lead's history and runs rule
// evaluation against the combined text+signals context, persisting any
// resulting mutation. It is the handler for POST /v1/leads/:id/signals
// as well as the path the message pipeline drives when an inbound
// message's text should be re-evaluated against the rule set.
func (s *Service) RecordSignals(ctx context.Context, organizationID, leadID uuid.UUID, signals []string, text string) (*repository.Lead, []leadrules.MatchedRule, error) {
	lead, err := s.repo.GetByID(ctx, leadID, organizationID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	for _, signal := range signals {
		if err := s.repo.InsertSignal(ctx, uuid.New(), organizationID, leadID, signal, now); err != nil {
			return nil, nil, err
		}
		s.bus.Publish(ctx, events.LeadSignalReceived{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: organizationID,
			LeadID:         leadID,
			Signal:         signal,
		})
	}

	return s.applyRules(ctx, lead, leadrules.RuleContext{Text: text, Signals: signals})
}

// ApplyInboundText runs rule evaluation using only an inbound message's
// text (no explicit signals), used by the message pipeline after
// ingesting a new inbound Message.
func (s *Service) ApplyInboundText(ctx context.Context, organizationID, leadID uuid.UUID, text string) (*repository.Lead, []leadrules.MatchedRule, error) {
	lead, err := s.repo.GetByID(ctx, leadID, organizationID)
	if err != nil {
		return nil, nil, err
	}
	return s.applyRules(ctx, lead, leadrules.RuleContext{Text: text})
}

// applyRules loads the organization's rule set, evaluates it against the
// lead's current snapshot plus ctx, and persists the minimal resulting
// diff. Conversion (stage -> converted) sets converted_at exactly once
// per I3/P2: converted_at is never overwritten once set.
func (s *Service) applyRules(ctx context.Context, lead *repository.Lead, ruleCtx leadrules.RuleContext) (*repository.Lead, []leadrules.MatchedRule, error) {
	rules, err := s.repo.ListRules(ctx, lead.OrganizationID)
	if err != nil {
		return nil, nil, err
	}

	snapshot := leadrules.LeadSnapshot{
		Tags:     lead.Tags,
		Stage:    lead.Stage,
		Score:    lead.Score,
		Source:   lead.Source,
		Metadata: lead.Metadata,
	}

	updates, matched := leadrules.Evaluate(snapshot, ruleCtx, toEngineRules(rules))
	if updates.IsEmpty() {
		return lead, matched, nil
	}

	previousStage := lead.Stage
	previousTags := append([]string(nil), lead.Tags...)

	now := time.Now().UTC()
	if updates.Tags != nil {
		lead.Tags = updates.Tags
	}
	if updates.Stage != nil {
		lead.Stage = *updates.Stage
	}
	if updates.Score != nil {
		lead.Score = *updates.Score
	}
	if updates.Source != nil {
		lead.Source = *updates.Source
	}
	if len(updates.Metadata) > 0 {
		if lead.Metadata == nil {
			lead.Metadata = map[string]any{}
		}
		for k, v := range updates.Metadata {
			lead.Metadata[k] = v
		}
	}
	lead.LastActivityAt = now
	lead.UpdatedAt = now
	if lead.Stage == stageConverted && lead.ConvertedAt == nil {
		converted := now
		lead.ConvertedAt = &converted
	}

	if err := s.repo.Update(ctx, lead); err != nil {
		return nil, nil, err
	}

	for _, m := range matched {
		ruleID, parseErr := uuid.Parse(m.RuleID)
		if parseErr != nil {
			continue
		}
		s.bus.Publish(ctx, events.LeadRuleMatched{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: lead.OrganizationID,
			LeadID:         lead.ID,
			RuleID:         ruleID,
		})
	}
	if updates.Stage != nil && previousStage != lead.Stage {
		s.bus.Publish(ctx, events.LeadStageChanged{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: lead.OrganizationID,
			LeadID:         lead.ID,
			PreviousStage:  previousStage,
			NewStage:       lead.Stage,
		})
	}
	if updates.Tags != nil {
		added, removed := diffTags(previousTags, lead.Tags)
		if len(added) > 0 || len(removed) > 0 {
			s.bus.Publish(ctx, events.LeadTagsChanged{
				BaseEvent:      events.NewBaseEvent(),
				OrganizationID: lead.OrganizationID,
				LeadID:         lead.ID,
				Added:          added,
				Removed:        removed,
			})
		}
	}
	if lead.Stage == stageConverted && previousStage != stageConverted {
		s.bus.Publish(ctx, events.ConversionRecorded{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: lead.OrganizationID,
			LeadID:         lead.ID,
			OccurredAtTime: now,
		})
	}

	return lead, matched, nil
}

// Segment is the campaign/journey audience predicate.
type Segment = repository.Segment

// PreviewAudience returns the count of leads matching a segment at call
// time, backing C3's PreviewAudience.
func (s *Service) PreviewAudience(ctx context.Context, organizationID uuid.UUID, segment Segment) (int, error) {
	return s.repo.CountSegment(ctx, organizationID, segment)
}

// Audience returns every lead matching a segment, backing campaign
// materialization.
func (s *Service) Audience(ctx context.Context, organizationID uuid.UUID, segment Segment) ([]repository.Lead, error) {
	return s.repo.MatchSegment(ctx, organizationID, segment)
}

// ApplyTagUpdate applies a journey tag_update node's mutation directly
// to a Lead (add_tags, remove_tags, set_stage), bypassing the rule
// engine since journey nodes are themselves the declarative action,
// not a condition/action rule pair. Conversion detection (I3/P2) and
// event publication mirror applyRules exactly.
func (s *Service) ApplyTagUpdate(ctx context.Context, organizationID, leadID uuid.UUID, addTags, removeTags []string, setStage *string) (*repository.Lead, error) {
	lead, err := s.repo.GetByID(ctx, leadID, organizationID)
	if err != nil {
		return nil, err
	}

	previousStage := lead.Stage
	previousTags := append([]string(nil), lead.Tags...)

	if len(addTags) > 0 {
		lead.Tags = unionTags(lead.Tags, addTags)
	}
	if len(removeTags) > 0 {
		lead.Tags = subtractTags(lead.Tags, removeTags)
	}
	if setStage != nil {
		lead.Stage = *setStage
	}

	now := time.Now().UTC()
	lead.LastActivityAt = now
	lead.UpdatedAt = now
	if lead.Stage == stageConverted && lead.ConvertedAt == nil {
		converted := now
		lead.ConvertedAt = &converted
	}

	if err := s.repo.Update(ctx, lead); err != nil {
		return nil, err
	}

	if setStage != nil && previousStage != lead.Stage {
		s.bus.Publish(ctx, events.LeadStageChanged{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: lead.OrganizationID,
			LeadID:         lead.ID,
			PreviousStage:  previousStage,
			NewStage:       lead.Stage,
		})
	}
	added, removed := diffTags(previousTags, lead.Tags)
	if len(added) > 0 || len(removed) > 0 {
		s.bus.Publish(ctx, events.LeadTagsChanged{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: lead.OrganizationID,
			LeadID:         lead.ID,
			Added:          added,
			Removed:        removed,
		})
	}
	if lead.Stage == stageConverted && previousStage != stageConverted {
		s.bus.Publish(ctx, events.ConversionRecorded{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: lead.OrganizationID,
			LeadID:         lead.ID,
			OccurredAtTime: now,
		})
	}

	return lead, nil
}

// GetRules returns an organization's configured rule set in evaluation
// order.
func (s *Service) GetRules(ctx context.Context, organizationID uuid.UUID) ([]repository.Rule, error) {
	return s.repo.ListRules(ctx, organizationID)
}

// PutRules replaces an organization's rule set.
func (s *Service) PutRules(ctx context.Context, organizationID uuid.UUID, rules []repository.Rule) error {
	now := time.Now().UTC()
	for i := range rules {
		if rules[i].ID == uuid.Nil {
			rules[i].ID = uuid.New()
		}
		rules[i].CreatedAt = now
		rules[i].UpdatedAt = now
	}
	return s.repo.ReplaceRules(ctx, organizationID, rules)
}

func toEngineRules(rules []repository.Rule) []leadrules.Rule {
	out := make([]leadrules.Rule, len(rules))
	for i, r := range rules {
		out[i] = leadrules.Rule{
			ID:          r.ID.String(),
			Enabled:     r.Enabled,
			Conditions:  r.Conditions,
			Actions:     r.Actions,
			StopOnMatch: r.StopOnMatch,
			Priority:    r.Priority,
		}
	}
	return out
}

func unionTags(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range add {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func subtractTags(existing, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, t := range remove {
		drop[t] = true
	}
	out := make([]string, 0, len(existing))
	for _, t := range existing {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return out
}

func diffTags(before, after []string) (added, removed []string) {
	beforeSet := make(map[string]bool, len(before))
	for _, t := range before {
		beforeSet[t] = true
	}
	afterSet := make(map[string]bool, len(after))
	for _, t := range after {
		afterSet[t] = true
	}
	for _, t := range after {
		if !beforeSet[t] {
			added = append(added, t)
		}
	}
	for _, t := range before {
		if !afterSet[t] {
			removed = append(removed, t)
		}
	}
	return added, removed
}
