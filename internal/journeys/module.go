// Package journeys implements the C4 journey state machine: the
// trigger graph, per-run step execution, the sweep poller for delayed
// steps, and the event subscriptions that start and advance runs
// without messaging or leads ever importing journeys.
package journeys

import (
	"context"
	"time"

	"github.com/omnireach/core/internal/events"
	apphttp "github.com/omnireach/core/internal/http"
	"github.com/omnireach/core/internal/jobs"
	"github.com/omnireach/core/internal/journeys/engine"
	"github.com/omnireach/core/internal/journeys/handler"
	"github.com/omnireach/core/internal/journeys/repository"
	"github.com/omnireach/core/internal/journeys/service"
	leadsservice "github.com/omnireach/core/internal/leads/service"
	messagingservice "github.com/omnireach/core/internal/messaging/service"
	"github.com/omnireach/core/platform/logger"
	"github.com/omnireach/core/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the journeys domain module.
type Module struct {
	handler *handler.Handler
	Service *service.Service
}

// NewModule creates a new journeys module with all dependencies wired
// and subscribes the state machine to the domain events that start and
// advance runs, so messaging and leads never import journeys.
func NewModule(
	pool *pgxpool.Pool,
	leads *leadsservice.Service,
	messaging *messagingservice.Service,
	jobsClient *jobs.Client,
	bus events.Bus,
	debounce time.Duration,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, leads, messaging, jobsClient, bus, debounce, log)
	h := handler.New(svc, val)

	bus.Subscribe("messaging.message.status_updated", events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.MessageStatusUpdated)
		if !ok {
			return nil
		}
		return svc.OnMessageStatusUpdated(ctx, e.OrganizationID, e.MessageID, e.Status)
	}))

	bus.Subscribe("messaging.message.received", events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.MessageReceived)
		if !ok {
			return nil
		}
		lead, err := leads.GetOrCreateForContact(ctx, e.OrganizationID, e.ContactID, "inbound_message")
		if err != nil {
			log.Error("journeys: resolve lead for inbound message failed", "error", err)
			return nil
		}
		message, err := messaging.GetMessage(ctx, e.MessageID, e.OrganizationID)
		if err != nil {
			log.Error("journeys: load inbound message failed", "error", err)
			return nil
		}
		return svc.EvaluateTrigger(ctx, e.OrganizationID, lead.ID, &e.ConversationID, engine.TriggerEvent{
			Type: engine.TriggerInboundMessage,
			Text: message.Text,
		})
	}))

	bus.Subscribe("leads.tags.changed", events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadTagsChanged)
		if !ok {
			return nil
		}
		return svc.EvaluateTrigger(ctx, e.OrganizationID, e.LeadID, nil, engine.TriggerEvent{
			Type: engine.TriggerTagChange,
			Tags: e.Added,
		})
	}))

	bus.Subscribe("leads.stage.changed", events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadStageChanged)
		if !ok {
			return nil
		}
		return svc.EvaluateTrigger(ctx, e.OrganizationID, e.LeadID, nil, engine.TriggerEvent{
			Type:  engine.TriggerStageChange,
			Stage: e.NewStage,
		})
	}))

	return &Module{handler: h, Service: svc}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "journeys"
}

// RegisterRoutes mounts the journeys routes under the protected group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	journeys := ctx.Protected.Group("/journeys")
	m.handler.RegisterRoutes(journeys)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
