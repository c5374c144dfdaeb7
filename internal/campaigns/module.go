// Package campaigns implements the C3 campaign orchestrator: audience
// segmentation, scheduling, the periodic materialization tick, and the
// per-send state machine driven by the messaging pipeline's outbound
// status updates.
package campaigns

import (
	"context"

	"github.com/omnireach/core/internal/campaigns/handler"
	"github.com/omnireach/core/internal/campaigns/repository"
	"github.com/omnireach/core/internal/campaigns/service"
	"github.com/omnireach/core/internal/events"
	apphttp "github.com/omnireach/core/internal/http"
	"github.com/omnireach/core/internal/jobs"
	leadsservice "github.com/omnireach/core/internal/leads/service"
	messagingservice "github.com/omnireach/core/internal/messaging/service"
	"github.com/omnireach/core/platform/logger"
	"github.com/omnireach/core/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the campaigns domain module.
type Module struct {
	handler *handler.Handler
	Service *service.Service
}

// NewModule creates a new campaigns module with all dependencies wired
// and subscribes the orchestrator to MessageStatusUpdated so campaign
// send completion tracking works without the messaging module ever
// importing campaigns.
func NewModule(
	pool *pgxpool.Pool,
	leads *leadsservice.Service,
	messaging *messagingservice.Service,
	jobsClient *jobs.Client,
	bus events.Bus,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, leads, messaging, jobsClient, bus, log)
	h := handler.New(svc, val)

	bus.Subscribe("messaging.message.status_updated", events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.MessageStatusUpdated)
		if !ok {
			return nil
		}
		return svc.OnMessageStatusUpdated(ctx, e.OrganizationID, e.MessageID, e.Status)
	}))

	return &Module{handler: h, Service: svc}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "campaigns"
}

// RegisterRoutes mounts the campaigns routes under the protected group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	campaigns := ctx.Protected.Group("/campaigns")
	m.handler.RegisterRoutes(campaigns)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
