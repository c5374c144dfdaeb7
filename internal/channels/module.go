// Package channels provides the channels domain module: per-organization
// provider-backed channel registration used by messaging, campaigns, and
// journeys to resolve where an outbound send goes.
package channels

import (
	apphttp "github.com/omnireach/core/internal/http"
	"github.com/omnireach/core/internal/channels/handler"
	"github.com/omnireach/core/internal/channels/repository"
	"github.com/omnireach/core/internal/channels/service"
	"github.com/omnireach/core/internal/providers"
	"github.com/omnireach/core/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the channels domain module.
type Module struct {
	handler *handler.Handler
	Service *service.Service
}

// NewModule creates a new channels module with all dependencies wired.
func NewModule(pool *pgxpool.Pool, registry *providers.Registry, val *validator.Validator) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, registry)
	h := handler.New(svc, val)

	return &Module{handler: h, Service: svc}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "channels"
}

// RegisterRoutes registers the module's routes under /v1/channels.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	channelsGroup := ctx.Protected.Group("/channels")
	m.handler.RegisterRoutes(channelsGroup)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
