// Package service implements the C4 journey state machine: trigger
// evaluation, per-run step execution, the delay/condition/tag_update/
// webhook/send_message node types, and the sweep poller that wakes
// delayed steps.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/omnireach/core/internal/events"
	"github.com/omnireach/core/internal/jobs"
	"github.com/omnireach/core/internal/journeys/engine"
	"github.com/omnireach/core/internal/journeys/repository"
	leadsservice "github.com/omnireach/core/internal/leads/service"
	messagingservice "github.com/omnireach/core/internal/messaging/service"
	"github.com/omnireach/core/platform/apperr"
	"github.com/omnireach/core/platform/logger"

	"github.com/google/uuid"
)

const (
	journeyStatusDraft    = "draft"
	journeyStatusActive   = "active"
	journeyStatusPaused   = "paused"
	journeyStatusArchived = "archived"

	runStatusPending   = "pending"
	runStatusRunning   = "running"
	runStatusCompleted = "completed"
	runStatusFailed    = "failed"
	runStatusCancelled = "cancelled"

	stepStatusPending   = "pending"
	stepStatusCompleted = "completed"
	stepStatusFailed    = "failed"
	stepStatusSkipped   = "skipped"

	webhookMaxAttempts = 3
	webhookTimeout     = 10 * time.Second

	sweepBatchSize = 50
)

// Service implements the journey state machine's domain operations.
type Service struct {
	repo      *repository.Repository
	leads     *leadsservice.Service
	messaging *messagingservice.Service
	jobs      *jobs.Client
	bus       events.Bus
	debounce  time.Duration
	http      *http.Client
	log       *logger.Logger
}

// New creates a new journeys service.
func New(repo *repository.Repository, leads *leadsservice.Service, messaging *messagingservice.Service, jobsClient *jobs.Client, bus events.Bus, debounce time.Duration, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		leads:     leads,
		messaging: messaging,
		jobs:      jobsClient,
		bus:       bus,
		debounce:  debounce,
		http:      &http.Client{Timeout: webhookTimeout},
		log:       log,
	}
}

// Create inserts a new journey in status "draft".
func (s *Service) Create(ctx context.Context, organizationID uuid.UUID, name string, triggers []engine.Trigger, nodes []engine.Node, edges []engine.Edge) (*repository.Journey, error) {
	now := time.Now().UTC()
	j := &repository.Journey{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		Name:           name,
		Status:         journeyStatusDraft,
		Triggers:       triggers,
		Nodes:          nodes,
		Edges:          edges,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// List returns every journey for an organization.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID) ([]repository.Journey, error) {
	return s.repo.List(ctx, organizationID)
}

// GetByID returns a single journey scoped to its organization.
func (s *Service) GetByID(ctx context.Context, id, organizationID uuid.UUID) (*repository.Journey, error) {
	return s.repo.GetByID(ctx, id, organizationID)
}

// Activate, Pause and Archive drive the journey's own status, distinct
// from any of its runs' statuses.
func (s *Service) Activate(ctx context.Context, id, organizationID uuid.UUID) error {
	return s.repo.UpdateStatus(ctx, id, organizationID, journeyStatusActive)
}

func (s *Service) Pause(ctx context.Context, id, organizationID uuid.UUID) error {
	return s.repo.UpdateStatus(ctx, id, organizationID, journeyStatusPaused)
}

func (s *Service) Archive(ctx context.Context, id, organizationID uuid.UUID) error {
	return s.repo.UpdateStatus(ctx, id, organizationID, journeyStatusArchived)
}

// ListRuns returns every run for a journey.
func (s *Service) ListRuns(ctx context.Context, journeyID uuid.UUID) ([]repository.Run, error) {
	return s.repo.ListRunsByJourney(ctx, journeyID)
}

// CancelRun halts a run before its next step enqueues; an
// already-running step completes normally (Open Question (e): a
// cancelled run never attempts to cancel in-flight outbound Messages).
func (s *Service) CancelRun(ctx context.Context, id uuid.UUID) error {
	ok, err := s.repo.FinishRun(ctx, id, runStatusCancelled, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("journey run is already terminal")
	}
	return nil
}

// EvaluateTrigger is called by module.go's event subscriptions for
// inbound_message/tag_change/stage_change events. It loads active
// journeys with a matching trigger type, matches each against the
// event, and starts a debounced Run per match.
func (s *Service) EvaluateTrigger(ctx context.Context, organizationID, leadID uuid.UUID, conversationID *uuid.UUID, ev engine.TriggerEvent) error {
	journeys, err := s.repo.ListActiveByTriggerType(ctx, organizationID, ev.Type)
	if err != nil {
		return fmt.Errorf("list active journeys: %w", err)
	}

	for _, journey := range journeys {
		for _, trigger := range journey.Triggers {
			if !engine.TriggerMatches(trigger, ev) {
				continue
			}
			if err := s.startRun(ctx, journey, leadID, conversationID, ev.Type, ev.Text); err != nil {
				s.log.Error("journey trigger start failed", "journeyId", journey.ID, "error", err)
			}
			break
		}
	}
	return nil
}

func (s *Service) startRun(ctx context.Context, journey repository.Journey, leadID uuid.UUID, conversationID *uuid.UUID, triggerType, triggerText string) error {
	dedupKey := triggerType
	allowed, err := s.repo.TryInsertTriggerDedup(ctx, journey.ID, leadID, dedupKey, s.debounce, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("trigger dedup: %w", err)
	}
	if !allowed {
		return nil
	}

	entry, ok := engine.EntryNode(journey.Nodes, journey.Edges)
	if !ok {
		return apperr.Validation("journey has no entry node")
	}

	now := time.Now().UTC()
	run := &repository.Run{
		ID:             uuid.New(),
		OrganizationID: journey.OrganizationID,
		JourneyID:      journey.ID,
		LeadID:         &leadID,
		ConversationID: conversationID,
		TriggerType:    triggerType,
		TriggerText:    triggerText,
		Status:         runStatusPending,
		StartedAt:      now,
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return err
	}

	if err := s.repo.CreateStep(ctx, &repository.Step{
		ID:        uuid.New(),
		RunID:     run.ID,
		NodeID:    entry,
		StepIndex: 0,
		Status:    stepStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return err
	}

	s.bus.Publish(ctx, events.JourneyTriggered{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: journey.OrganizationID,
		JourneyID:      journey.ID,
		RunID:          run.ID,
		LeadID:         leadID,
	})

	return s.jobs.EnqueueJourneyRun(ctx, jobs.JourneyRunPayload{
		OrganizationID: journey.OrganizationID.String(),
		JourneyID:      journey.ID.String(),
		RunID:          run.ID.String(),
	}, 0)
}

// AdvanceRun is the jobs.Journeys interface implementation: the
// worker-side handler for the journey.runs queue. It claims the run's
// next ready step (status pending, wake_at elapsed or unset) and
// executes exactly one node, then either re-enqueues itself for the
// next step or returns, letting the sweep poller or an event callback
// resume the run later.
func (s *Service) AdvanceRun(ctx context.Context, payload jobs.JourneyRunPayload) error {
	organizationID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return fmt.Errorf("invalid organization id: %w", err)
	}
	journeyID, err := uuid.Parse(payload.JourneyID)
	if err != nil {
		return fmt.Errorf("invalid journey id: %w", err)
	}
	runID, err := uuid.Parse(payload.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == runStatusCancelled || run.Status == runStatusCompleted || run.Status == runStatusFailed {
		return nil
	}
	if run.Status == runStatusPending {
		if _, err := s.repo.MarkRunRunning(ctx, runID); err != nil {
			return err
		}
	}

	journey, err := s.repo.GetByID(ctx, journeyID, organizationID)
	if err != nil {
		return err
	}

	step, err := s.repo.ClaimNextStep(ctx, runID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("claim next step: %w", err)
	}
	if step == nil {
		return nil
	}

	return s.executeStep(ctx, *journey, *run, *step)
}

func (s *Service) executeStep(ctx context.Context, journey repository.Journey, run repository.Run, step repository.Step) error {
	node, ok := findNode(journey.Nodes, step.NodeID)
	if !ok {
		return s.failRun(ctx, run, step, fmt.Sprintf("unknown node %q", step.NodeID))
	}

	switch node.Type {
	case engine.NodeSendMessage:
		return s.executeSendMessage(ctx, journey, run, step, node)
	case engine.NodeDelay:
		return s.executeDelay(ctx, run, step, node)
	case engine.NodeCondition:
		return s.executeCondition(ctx, journey, run, step, node)
	case engine.NodeTagUpdate:
		return s.executeTagUpdate(ctx, journey, run, step, node)
	case engine.NodeWebhook:
		return s.executeWebhook(ctx, journey, run, step, node)
	case engine.NodeToolCall:
		return s.failRun(ctx, run, step, "tool_call nodes are not supported")
	default:
		return s.failRun(ctx, run, step, fmt.Sprintf("unsupported node type %q", node.Type))
	}
}

// executeSendMessage leaves the step "running": completion happens
// asynchronously via OnMessageStatusUpdated once the linked outbound
// Message reaches sent/failed.
func (s *Service) executeSendMessage(ctx context.Context, journey repository.Journey, run repository.Run, step repository.Step, node engine.Node) error {
	cfg, ok := engine.AsSendMessage(node.Config)
	if !ok {
		return s.failRun(ctx, run, step, "send_message node missing channel_id")
	}
	if run.LeadID == nil {
		return s.failRun(ctx, run, step, "send_message requires a lead context")
	}
	lead, err := s.leads.GetByID(ctx, *run.LeadID, run.OrganizationID)
	if err != nil {
		return err
	}

	stepID := step.ID
	_, err = s.messaging.EnqueueForContact(ctx, run.OrganizationID, cfg.ChannelID, lead.ContactID, cfg.Text,
		messagingservice.Linkage{JourneyRunStepID: &stepID})
	if err != nil {
		return s.failRun(ctx, run, step, err.Error())
	}
	return nil
}

func (s *Service) executeDelay(ctx context.Context, run repository.Run, step repository.Step, node engine.Node) error {
	cfg := engine.AsDelay(node.Config)
	wakeAt := time.Now().UTC().Add(time.Duration(cfg.DelayMinutes) * time.Minute)
	if err := s.repo.SetStepWakeAt(ctx, step.ID, wakeAt); err != nil {
		return err
	}
	return nil
}

func (s *Service) executeCondition(ctx context.Context, journey repository.Journey, run repository.Run, step repository.Step, node engine.Node) error {
	cfg := engine.AsCondition(node.Config)
	leadCtx := engine.LeadContext{}
	if run.LeadID != nil {
		lead, err := s.leads.GetByID(ctx, *run.LeadID, run.OrganizationID)
		if err == nil {
			leadCtx = engine.LeadContext{Tags: lead.Tags, Score: lead.Score}
		}
	}
	label := engine.EvaluateCondition(cfg, leadCtx, run.TriggerText)
	return s.completeAndAdvance(ctx, journey, run, step, label, map[string]any{"branch": label})
}

func (s *Service) executeTagUpdate(ctx context.Context, journey repository.Journey, run repository.Run, step repository.Step, node engine.Node) error {
	if run.LeadID == nil {
		return s.failRun(ctx, run, step, "tag_update requires a lead context")
	}
	cfg := engine.AsTagUpdate(node.Config)
	if _, err := s.leads.ApplyTagUpdate(ctx, run.OrganizationID, *run.LeadID, cfg.AddTags, cfg.RemoveTags, cfg.SetStage); err != nil {
		return err
	}
	return s.completeAndAdvance(ctx, journey, run, step, "", nil)
}

func (s *Service) executeWebhook(ctx context.Context, journey repository.Journey, run repository.Run, step repository.Step, node engine.Node) error {
	cfg := engine.AsWebhook(node.Config)
	if cfg.URL == "" {
		return s.failRun(ctx, run, step, "webhook node missing url")
	}

	var lastErr error
	for attempt := 0; attempt < webhookMaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt))
		}
		if err := s.postWebhook(ctx, cfg); err != nil {
			lastErr = err
			continue
		}
		return s.completeAndAdvance(ctx, journey, run, step, "", nil)
	}
	return s.failRun(ctx, run, step, lastErr.Error())
}

func (s *Service) postWebhook(ctx context.Context, cfg engine.WebhookConfig) error {
	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bytes.NewBufferString(cfg.Body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// OnMessageStatusUpdated reacts to a MessageStatusUpdated event: when
// the message is linked to a journey run step and reaches a terminal
// state, it completes or fails that step and advances the run.
// Subscribed by module.go rather than called directly, so messaging
// never imports journeys.
func (s *Service) OnMessageStatusUpdated(ctx context.Context, organizationID, messageID uuid.UUID, status string) error {
	if status != "sent" && status != "failed" {
		return nil
	}
	message, err := s.messaging.GetMessage(ctx, messageID, organizationID)
	if apperr.GetKind(err) == apperr.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if message.JourneyRunStepID == nil {
		return nil
	}

	step, err := s.repo.GetStepByID(ctx, *message.JourneyRunStepID)
	if apperr.GetKind(err) == apperr.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if step.Status != "running" {
		return nil
	}

	run, err := s.repo.GetRun(ctx, step.RunID)
	if err != nil {
		return err
	}
	journey, err := s.repo.GetByID(ctx, run.JourneyID, organizationID)
	if err != nil {
		return err
	}

	if status == "failed" {
		return s.failRun(ctx, *run, *step, "outbound message failed")
	}
	return s.completeAndAdvance(ctx, *journey, *run, *step, "", nil)
}

// completeAndAdvance marks the current step completed, resolves the
// next node via the journey graph, and either enqueues the next step
// or finishes the run when no outgoing edge remains.
func (s *Service) completeAndAdvance(ctx context.Context, journey repository.Journey, run repository.Run, step repository.Step, branchLabel string, output map[string]any) error {
	if err := s.repo.CompleteStep(ctx, step.ID, stepStatusCompleted, output, nil); err != nil {
		return err
	}

	nextNodeID, ok, ambiguous := engine.NextEdge(journey.Edges, step.NodeID, branchLabel)
	if ambiguous {
		return s.failRun(ctx, run, step, "ambiguous branch: multiple unlabeled outgoing edges")
	}
	if !ok {
		if _, err := s.repo.FinishRun(ctx, run.ID, runStatusCompleted, time.Now().UTC()); err != nil {
			return err
		}
		s.bus.Publish(ctx, events.JourneyRunFinished{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: run.OrganizationID,
			RunID:          run.ID,
			Status:         runStatusCompleted,
		})
		return nil
	}

	if err := s.repo.UpdateRunCurrentNode(ctx, run.ID, nextNodeID); err != nil {
		return err
	}
	if err := s.repo.CreateStep(ctx, &repository.Step{
		ID:        uuid.New(),
		RunID:     run.ID,
		NodeID:    nextNodeID,
		StepIndex: step.StepIndex + 1,
		Status:    stepStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	s.bus.Publish(ctx, events.JourneyStepCompleted{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: run.OrganizationID,
		RunID:          run.ID,
		NodeID:         step.NodeID,
	})

	return s.jobs.EnqueueJourneyRun(ctx, jobs.JourneyRunPayload{
		OrganizationID: run.OrganizationID.String(),
		JourneyID:      run.JourneyID.String(),
		RunID:          run.ID.String(),
	}, 0)
}

func (s *Service) failRun(ctx context.Context, run repository.Run, step repository.Step, errMsg string) error {
	if err := s.repo.CompleteStep(ctx, step.ID, stepStatusFailed, nil, &errMsg); err != nil {
		return err
	}
	if _, err := s.repo.FinishRun(ctx, run.ID, runStatusFailed, time.Now().UTC()); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.JourneyRunFinished{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: run.OrganizationID,
		RunID:          run.ID,
		Status:         runStatusFailed,
	})
	return nil
}

// SweepWake is the periodic poller entry point: it finds every step
// whose delay has elapsed and re-enqueues an AdvanceRun job for its
// run, mirroring the campaign scheduler's ClaimDue/tick split.
func (s *Service) SweepWake(ctx context.Context) error {
	woken, err := s.repo.ClaimWoken(ctx, time.Now().UTC(), sweepBatchSize)
	if err != nil {
		return fmt.Errorf("claim woken journey steps: %w", err)
	}
	for _, step := range woken {
		run, err := s.repo.GetRun(ctx, step.RunID)
		if err != nil {
			s.log.Error("journey sweep: load run failed", "stepId", step.ID, "error", err)
			continue
		}
		if run.Status == runStatusCancelled || run.Status == runStatusCompleted || run.Status == runStatusFailed {
			continue
		}
		if err := s.jobs.EnqueueJourneyRun(ctx, jobs.JourneyRunPayload{
			OrganizationID: run.OrganizationID.String(),
			JourneyID:      run.JourneyID.String(),
			RunID:          run.ID.String(),
		}, 0); err != nil {
			s.log.Error("journey sweep: enqueue failed", "runId", run.ID, "error", err)
		}
	}
	return nil
}

func findNode(nodes []engine.Node, id string) (engine.Node, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return engine.Node{}, false
}

func backoff(attempt int) time.Duration {
	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

var _ jobs.Journeys = (*Service)(nil)
