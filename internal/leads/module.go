// Package leads provides the leads domain module (C2 Lead Rule Engine
// HTTP surface): lead listing, signal ingestion, and rule configuration.
package leads

import (
	"github.com/omnireach/core/internal/events"
	apphttp "github.com/omnireach/core/internal/http"
	"github.com/omnireach/core/internal/leads/handler"
	"github.com/omnireach/core/internal/leads/repository"
	"github.com/omnireach/core/internal/leads/service"
	"github.com/omnireach/core/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the leads domain module.
type Module struct {
	handler *handler.Handler
	Service *service.Service
}

// NewModule creates a new leads module with all dependencies wired.
func NewModule(pool *pgxpool.Pool, val *validator.Validator, bus events.Bus) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, bus)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		Service: svc,
	}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "leads"
}

// RegisterRoutes registers the module's routes under /v1/leads and
// /v1/lead-rules.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	leadsGroup := ctx.Protected.Group("/leads")
	rulesGroup := ctx.Protected.Group("/lead-rules")
	m.handler.RegisterRoutes(leadsGroup, rulesGroup)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
