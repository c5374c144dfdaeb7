// Package crm implements an organization's outbound CRM integration
// surface: a field-mapping configuration and the DeliverWebhook job
// handler that applies it. Everything beyond this interface (the
// console's mapping preview UI, CRM-specific connectors) is treated
// as an external collaborator and out of scope here.
package crm

import (
	"github.com/omnireach/core/internal/crm/handler"
	"github.com/omnireach/core/internal/crm/repository"
	"github.com/omnireach/core/internal/crm/service"
	apphttp "github.com/omnireach/core/internal/http"
	leadsservice "github.com/omnireach/core/internal/leads/service"
	"github.com/omnireach/core/platform/logger"
	"github.com/omnireach/core/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the crm domain module.
type Module struct {
	handler *handler.Handler
	Service *service.Service
}

// NewModule creates a new crm module with all dependencies wired.
func NewModule(pool *pgxpool.Pool, leads *leadsservice.Service, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, leads, log)
	h := handler.New(svc, val)

	return &Module{handler: h, Service: svc}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "crm"
}

// RegisterRoutes mounts the crm routes under the protected group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	crmGroup := ctx.Protected.Group("/crm")
	m.handler.RegisterRoutes(crmGroup)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
