// Package analytics implements the C5 attribution and analytics
// orchestrator: conversion-triggered credit splitting, revenue
// attachment, and periodic daily rollups, read through
// GET /v1/analytics/* and GET /v1/attribution/report.
package analytics

import (
	"context"

	"github.com/omnireach/core/internal/analytics/handler"
	"github.com/omnireach/core/internal/analytics/repository"
	"github.com/omnireach/core/internal/analytics/service"
	campaignsservice "github.com/omnireach/core/internal/campaigns/service"
	"github.com/omnireach/core/internal/events"
	apphttp "github.com/omnireach/core/internal/http"
	leadsservice "github.com/omnireach/core/internal/leads/service"
	messagingservice "github.com/omnireach/core/internal/messaging/service"
	"github.com/omnireach/core/platform/logger"
	"github.com/omnireach/core/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the analytics domain module.
type Module struct {
	handler *handler.Handler
	Service *service.Service
}

// NewModule creates a new analytics module with all dependencies wired
// and subscribes the orchestrator to ConversionRecorded so credit
// splitting runs without the leads module ever importing analytics.
func NewModule(
	pool *pgxpool.Pool,
	messaging *messagingservice.Service,
	campaigns *campaignsservice.Service,
	leads *leadsservice.Service,
	bus events.Bus,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, messaging, campaigns, leads, log)
	h := handler.New(svc, val)

	bus.Subscribe("attribution.conversion.recorded", events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.ConversionRecorded)
		if !ok {
			return nil
		}
		return svc.OnConversionRecorded(ctx, e.OrganizationID, e.LeadID, e.RevenueCents, e.OccurredAtTime)
	}))

	return &Module{handler: h, Service: svc}
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "analytics"
}

// RegisterRoutes mounts the analytics and attribution routes under the
// protected group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	analytics := ctx.Protected.Group("/analytics")
	m.handler.RegisterRoutes(analytics)

	attributionGroup := ctx.Protected.Group("/attribution")
	m.handler.RegisterAttributionRoutes(attributionGroup)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
