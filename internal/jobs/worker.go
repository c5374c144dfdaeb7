package jobs

import (
	"context"
	"math"
	"time"

	"github.com/omnireach/core/internal/events"
	"github.com/omnireach/core/platform/config"
	"github.com/omnireach/core/platform/logger"

	"github.com/hibiken/asynq"
)

// Messaging processes inbound/outbound message jobs (C1).
type Messaging interface {
	IngestInbound(ctx context.Context, payload InboundEventPayload) error
	SendOutbound(ctx context.Context, payload OutboundMessagePayload) error
	ReconcileStatus(ctx context.Context, payload WhatsAppStatusPayload) error
}

// Campaigns processes a single recipient's campaign send (C3).
type Campaigns interface {
	ProcessSend(ctx context.Context, payload CampaignSendPayload) error
}

// Journeys advances one journey run by one step (C4).
type Journeys interface {
	AdvanceRun(ctx context.Context, payload JourneyRunPayload) error
}

// Analytics computes an attribution/analytics rollup window (C5).
type Analytics interface {
	RollupMetrics(ctx context.Context, payload AnalyticsMetricPayload) error
}

// CRM delivers outbound CRM integration calls (lead sync, revenue report).
type CRM interface {
	DeliverWebhook(ctx context.Context, payload CRMWebhookPayload) error
}

// Worker runs the asynq server and dispatches each named queue's task to
// its domain handler. Handlers are wired after construction via the
// Set* methods, mirroring how the composition root builds domain
// services only once the repository/bus are available.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	bus    events.Bus
	log    *logger.Logger

	messaging Messaging
	campaigns Campaigns
	journeys  Journeys
	analytics Analytics
	crm       CRM
}

func NewWorker(cfg config.SchedulerConfig, bus events.Bus, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, asynqErrf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	queues := make(map[string]int, len(Queues))
	for _, q := range Queues {
		queues[q] = 1
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         queues,
		RetryDelayFunc: exponentialBackoff,
	})

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		bus:    bus,
		log:    log,
	}

	w.mux.HandleFunc(TaskInboundEvent, w.handleInboundEvent)
	w.mux.HandleFunc(TaskOutboundMessage, w.handleOutboundMessage)
	w.mux.HandleFunc(TaskWhatsAppStatus, w.handleWhatsAppStatus)
	w.mux.HandleFunc(TaskCampaignSend, w.handleCampaignSend)
	w.mux.HandleFunc(TaskJourneyRun, w.handleJourneyRun)
	w.mux.HandleFunc(TaskKnowledgeSync, w.handleKnowledgeSync)
	w.mux.HandleFunc(TaskAIInsight, w.handleAIInsight)
	w.mux.HandleFunc(TaskCRMWebhook, w.handleCRMWebhook)
	w.mux.HandleFunc(TaskAnalyticsMetric, w.handleAnalyticsMetric)
	w.mux.HandleFunc(TaskAgentReply, w.handleAgentReply)

	return w, nil
}

func (w *Worker) SetMessaging(m Messaging) { w.messaging = m }
func (w *Worker) SetCampaigns(c Campaigns) { w.campaigns = c }
func (w *Worker) SetJourneys(j Journeys)   { w.journeys = j }
func (w *Worker) SetAnalytics(a Analytics) { w.analytics = a }
func (w *Worker) SetCRM(c CRM)             { w.crm = c }

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("job worker stopped", "error", err)
	}
}

func (w *Worker) handleInboundEvent(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseInboundEventPayload(task)
	if err != nil {
		return err
	}
	if w.messaging == nil {
		return asynqErrf("messaging handler not configured")
	}
	return w.messaging.IngestInbound(ctx, payload)
}

func (w *Worker) handleOutboundMessage(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOutboundMessagePayload(task)
	if err != nil {
		return err
	}
	if w.messaging == nil {
		return asynqErrf("messaging handler not configured")
	}
	return w.messaging.SendOutbound(ctx, payload)
}

func (w *Worker) handleWhatsAppStatus(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseWhatsAppStatusPayload(task)
	if err != nil {
		return err
	}
	if w.messaging == nil {
		return asynqErrf("messaging handler not configured")
	}
	return w.messaging.ReconcileStatus(ctx, payload)
}

func (w *Worker) handleCampaignSend(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCampaignSendPayload(task)
	if err != nil {
		return err
	}
	if w.campaigns == nil {
		return asynqErrf("campaigns handler not configured")
	}
	return w.campaigns.ProcessSend(ctx, payload)
}

func (w *Worker) handleJourneyRun(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseJourneyRunPayload(task)
	if err != nil {
		return err
	}
	if w.journeys == nil {
		return asynqErrf("journeys handler not configured")
	}
	return w.journeys.AdvanceRun(ctx, payload)
}

// handleKnowledgeSync and handleAIInsight and handleAgentReply are no-ops:
// knowledge base sync and AI-assisted insights/replies are out of scope
// for this core (see SPEC_FULL.md Non-goals). The queues and task
// contracts exist so a future worker can pick them up without a wire
// format change.
func (w *Worker) handleKnowledgeSync(ctx context.Context, task *asynq.Task) error {
	return nil
}

func (w *Worker) handleAIInsight(ctx context.Context, task *asynq.Task) error {
	return nil
}

func (w *Worker) handleAgentReply(ctx context.Context, task *asynq.Task) error {
	return nil
}

func (w *Worker) handleCRMWebhook(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCRMWebhookPayload(task)
	if err != nil {
		return err
	}
	if w.crm == nil {
		return asynqErrf("crm handler not configured")
	}
	return w.crm.DeliverWebhook(ctx, payload)
}

func (w *Worker) handleAnalyticsMetric(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAnalyticsMetricPayload(task)
	if err != nil {
		return err
	}
	if w.analytics == nil {
		return asynqErrf("analytics handler not configured")
	}
	return w.analytics.RollupMetrics(ctx, payload)
}

// exponentialBackoff starts at 1s and doubles per attempt, matching the
// job contract's default retry policy (attempts=3).
func exponentialBackoff(n int, _ error, _ *asynq.Task) time.Duration {
	seconds := math.Pow(2, float64(n))
	return time.Duration(seconds) * time.Second
}

type asynqError string

func (e asynqError) Error() string { return string(e) }

func asynqErrf(msg string) error { return asynqError(msg) }
