package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnireach/core/internal/analytics"
	"github.com/omnireach/core/internal/campaigns"
	channelsrepo "github.com/omnireach/core/internal/channels/repository"
	"github.com/omnireach/core/internal/crm"
	"github.com/omnireach/core/internal/events"
	"github.com/omnireach/core/internal/jobs"
	"github.com/omnireach/core/internal/journeys"
	"github.com/omnireach/core/internal/leads"
	"github.com/omnireach/core/internal/messaging"
	"github.com/omnireach/core/internal/providers"
	"github.com/omnireach/core/platform/config"
	"github.com/omnireach/core/platform/db"
	"github.com/omnireach/core/platform/logger"
	"github.com/omnireach/core/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// Same domain wiring as cmd/api, minus the HTTP handlers: the worker
	// process only needs each module's Service to hand to the job dispatcher
	// and the periodic tickers below. channels has no job handlers of its
	// own; messaging only needs its repository to resolve send targets.
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

	jobsInspector, err := jobs.NewInspector(cfg)
	if err != nil {
		log.Warn("job retention janitor unavailable", "error", err)
	} else {
		defer func() { _ = jobsInspector.Close() }()
	}

	worker, err := jobs.NewWorker(cfg, eventBus, log)
	if err != nil {
		log.Error("failed to initialize job worker", "error", err)
		panic("failed to initialize job worker: " + err.Error())
	}
	worker.SetMessaging(messagingModule.Service)
	worker.SetCampaigns(campaignsModule.Service)
	worker.SetJourneys(journeysModule.Service)
	worker.SetAnalytics(analyticsModule.Service)
	worker.SetCRM(crmModule.Service)

	go runCampaignTicker(ctx, campaignsModule.Service, cfg.GetCampaignTickInterval(), log)
	go runJourneySweeper(ctx, journeysModule.Service, cfg.GetJourneySweepInterval(), log)
	go runAnalyticsRollup(ctx, jobsClient, cfg.GetAnalyticsRollupInterval(), log)
	if jobsInspector != nil {
		go runRetentionJanitor(ctx, jobsInspector, log)
	}

	worker.Run(ctx)
}

type campaignTicker interface {
	TickScheduler(ctx context.Context) error
}

func runCampaignTicker(ctx context.Context, svc campaignTicker, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.TickScheduler(ctx); err != nil {
				log.Warn("campaign tick failed", "error", err)
			}
		}
	}
}

type journeySweeper interface {
	SweepWake(ctx context.Context) error
}

func runJourneySweeper(ctx context.Context, svc journeySweeper, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.SweepWake(ctx); err != nil {
				log.Warn("journey sweep failed", "error", err)
			}
		}
	}
}

// runAnalyticsRollup enqueues an all-organizations rollup job on a fixed
// interval rather than computing it inline, so a slow rollup doesn't
// block the ticker and failures get asynq's own retry/dead-letter path.
func runAnalyticsRollup(ctx context.Context, client *jobs.Client, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := jobs.AnalyticsMetricPayload{OrganizationID: "", Window: ""}
			if err := client.EnqueueAnalyticsMetric(ctx, payload); err != nil {
				log.Warn("failed to enqueue analytics rollup", "error", err)
			}
		}
	}
}

// retentionJanitorInterval is fixed rather than config-driven: trimming
// is a maintenance sweep, not a tunable like the domain tickers above.
const retentionJanitorInterval = time.Hour

// runRetentionJanitor enforces the job contract's count-based retention
// (remove_on_complete=1000, remove_on_fail=5000) on top of asynq's own
// duration-based Retention option set at enqueue time.
func runRetentionJanitor(ctx context.Context, insp *jobs.Inspector, log *logger.Logger) {
	ticker := time.NewTicker(retentionJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := insp.TrimCompleted(jobs.DefaultCompletedRetain); err != nil {
				log.Warn("completed task trim failed", "error", err)
			}
			if err := insp.TrimArchived(jobs.DefaultArchivedRetain); err != nil {
				log.Warn("archived task trim failed", "error", err)
			}
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
