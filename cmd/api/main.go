package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/incident-sync/internal/api/http"
	"github.com/spec-kit/incident-sync/internal/api/http/handlers"
	"github.com/spec-kit/incident-sync/internal/auth"
	"github.com/spec-kit/incident-sync/internal/config"
	"github.com/spec-kit/incident-sync/internal/events"
	"github.com/spec-kit/incident-sync/internal/observability"
	"github.com/spec-kit/incident-sync/internal/persistence"
	"github.com/spec-kit/incident-sync/internal/repository"
	"github.com/spec-kit/incident-sync/internal/service"
	syncengine "github.com/spec-kit/incident-sync/internal/sync"
	"github.com/spec-kit/incident-sync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	pool := pg.PoolHandle()

	userRepo := repository.NewUserRepository(pool)
	incidentRepo := repository.NewIncidentRepository(pool)
	milestoneRepo := repository.NewMilestoneRepository(pool)
	roleRepo := repository.NewRoleRepository(pool)
	metricRepo := repository.NewMetricRepository(pool)
	ticketRepo := repository.NewExternalTicketRepository(pool)

	dispatcher := events.NewInMemoryDispatcher()

	incidentService := service.NewIncidentService(cfg.Incident, service.IncidentDependencies{
		IncidentRepo:  incidentRepo,
		MilestoneRepo: milestoneRepo,
		RoleRepo:      roleRepo,
		MetricRepo:    metricRepo,
		Dispatcher:    dispatcher,
		Logger:        logger,
	})
	authService := service.NewAuthService(cfg.Auth, userRepo)
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)

	guard := syncengine.NewRedisLoopGuard(redis.Client, cfg.Sync.GuardTTL(), logger)
	ticketClient := syncengine.NewHTTPTicketClient(cfg.Sync)
	engine := syncengine.NewEngine(syncengine.EngineDependencies{
		IncidentRepo:  incidentRepo,
		TicketRepo:    ticketRepo,
		UserRepo:      userRepo,
		RoleRepo:      roleRepo,
		Guard:         guard,
		Client:        ticketClient,
		ProjectKey:    cfg.Sync.TicketProjectKey,
		Logger:        logger,
		Metrics:       metrics,
	})

	worker.RegisterNotificationListeners(notificationService)
	if cfg.Sync.Enabled {
		worker.RegisterSyncListeners(dispatcher, engine, incidentRepo)
	}

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(pg, redis),
		Users:          handlers.NewUsersHandler(authService),
		Incidents:      handlers.NewIncidentsHandler(incidentService, engine),
		Webhook:        handlers.NewWebhookHandler(engine, cfg.Sync.WebhookSecret, logger),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
