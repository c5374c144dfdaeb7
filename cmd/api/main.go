package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnireach/core/internal/analytics"
	"github.com/omnireach/core/internal/campaigns"
	"github.com/omnireach/core/internal/channels"
	channelsrepo "github.com/omnireach/core/internal/channels/repository"
	"github.com/omnireach/core/internal/crm"
	"github.com/omnireach/core/internal/events"
	apphttp "github.com/omnireach/core/internal/http"
	"github.com/omnireach/core/internal/http/router"
	"github.com/omnireach/core/internal/jobs"
	"github.com/omnireach/core/internal/journeys"
	"github.com/omnireach/core/internal/leads"
	"github.com/omnireach/core/internal/messaging"
	"github.com/omnireach/core/internal/providers"
	"github.com/omnireach/core/platform/config"
	"github.com/omnireach/core/platform/db"
	"github.com/omnireach/core/platform/httpkit"
	"github.com/omnireach/core/platform/logger"
	"github.com/omnireach/core/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	jobsClient, err := jobs.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize job client", "error", err)
		panic("failed to initialize job client: " + err.Error())
	}
	defer func() { _ = jobsClient.Close() }()

	redisClient, err := jobs.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}
	defer func() { _ = redisClient.Close() }()

	registry := providers.NewRegistry()
	registry.Register(providers.NewMockAdapter())
	registry.Register(providers.NewWhatsAppAdapter(cfg, log))

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	channelsModule := channels.NewModule(pool, registry, val)

	leadsModule := leads.NewModule(pool, val, eventBus)

	messagingModule := messaging.NewModule(
		pool,
		channelsrepo.New(pool),
		registry,
		leadsModule.Service,
		jobsClient,
		eventBus,
		cfg,
		redisClient,
		val,
		log,
	)

	campaignsModule := campaigns.NewModule(
		pool,
		leadsModule.Service,
		messagingModule.Service,
		jobsClient,
		eventBus,
		val,
		log,
	)

	journeysModule := journeys.NewModule(
		pool,
		leadsModule.Service,
		messagingModule.Service,
		jobsClient,
		eventBus,
		cfg.GetJourneyTriggerDebounce(),
		val,
		log,
	)

	analyticsModule := analytics.NewModule(
		pool,
		messagingModule.Service,
		campaignsModule.Service,
		leadsModule.Service,
		eventBus,
		val,
		log,
	)

	crmModule := crm.NewModule(pool, leadsModule.Service, val, log)

	modules := []apphttp.Module{
		channelsModule,
		leadsModule,
		messagingModule,
		campaignsModule,
		journeysModule,
		analyticsModule,
		crmModule,
	}
	if deadLetter := newDeadLetterModule(cfg, log); deadLetter != nil {
		modules = append(modules, deadLetter)
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules:  modules,
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// deadLetterModule mounts the admin dead-letter inspection endpoint.
// It reads the job substrate's own Redis-backed queues rather than a
// Postgres table owned by any one domain, so it isn't modeled as a
// full domain module with its own repository/service split.
type deadLetterModule struct {
	insp *jobs.Inspector
}

func newDeadLetterModule(cfg *config.Config, log *logger.Logger) *deadLetterModule {
	insp, err := jobs.NewInspector(cfg)
	if err != nil {
		log.Warn("dead-letter inspector unavailable", "error", err)
		return nil
	}
	return &deadLetterModule{insp: insp}
}

func (m *deadLetterModule) Name() string { return "admin.jobs" }

func (m *deadLetterModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Admin.GET("/jobs/dead-letter", func(c *gin.Context) {
		entries, err := m.insp.ListDeadLetter()
		if err != nil {
			httpkit.Error(c, http.StatusInternalServerError, "failed to list dead-letter tasks", nil)
			return
		}
		httpkit.OK(c, gin.H{"tasks": entries})
	})
}

var _ apphttp.Module = (*deadLetterModule)(nil)

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
