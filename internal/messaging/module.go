// Package messaging implements the inbound/outbound message pipeline
// (C1): contact and conversation resolution, provider webhook ingress,
// the mock inbound endpoint used in development, and status
// reconciliation.
package messaging

import (
	apphttp "github.com/omnireach/core/internal/http"
	"github.com/omnireach/core/internal/channels/repository"
	leadsservice "github.com/omnireach/core/internal/leads/service"
	"github.com/omnireach/core/internal/jobs"
	"github.com/omnireach/core/internal/messaging/handler"
	msgrepo "github.com/omnireach/core/internal/messaging/repository"
	"github.com/omnireach/core/internal/messaging/service"
	"github.com/omnireach/core/internal/providers"
	"github.com/omnireach/core/internal/events"
	"github.com/omnireach/core/platform/config"
	"github.com/omnireach/core/platform/logger"
	"github.com/omnireach/core/platform/validator"
	"github.com/omnireach/core/platform/webhooksig"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Module represents the messaging domain module.
type Module struct {
	handler *handler.Handler
	Service *service.Service
}

// NewModule creates a new messaging module with all dependencies wired.
func NewModule(
	pool *pgxpool.Pool,
	channelsRepo *repository.Repository,
	registry *providers.Registry,
	leads *leadsservice.Service,
	jobsClient *jobs.Client,
	bus events.Bus,
	webhookCfg config.WebhookSigningConfig,
	redisClient *redis.Client,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	repo := msgrepo.New(pool)
	svc := service.New(repo, channelsRepo, registry, leads, jobsClient, bus, log)
	verifier := webhooksig.New(redisClient, webhookCfg)
	h := handler.New(svc, jobsClient, verifier, val, log)

	return &Module{handler: h, Service: svc}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "messaging"
}

// RegisterRoutes mounts the mock inbound endpoint under the protected
// group and the provider webhook endpoints under the public group,
// since webhooks are called server-to-server without a bearer token.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	mock := ctx.Protected.Group("/mock")
	m.handler.RegisterMockRoutes(mock)

	webhooks := ctx.V1.Group("/webhooks")
	m.handler.RegisterWebhookRoutes(webhooks)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
