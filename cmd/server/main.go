package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flexprice/billingops/internal/api"
	v1 "github.com/flexprice/billingops/internal/api/v1"
	"github.com/flexprice/billingops/internal/cache"
	"github.com/flexprice/billingops/internal/config"
	"github.com/flexprice/billingops/internal/domain/invoice"
	"github.com/flexprice/billingops/internal/domain/settlement"
	"github.com/flexprice/billingops/internal/integration/stripe"
	"github.com/flexprice/billingops/internal/lock"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/postgres"
	"github.com/flexprice/billingops/internal/pubsub"
	"github.com/flexprice/billingops/internal/redis"
	"github.com/flexprice/billingops/internal/repository/memory"
	pgrepo "github.com/flexprice/billingops/internal/repository/postgres"
	"github.com/flexprice/billingops/internal/sentry"
	"github.com/flexprice/billingops/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			sentry.NewSentryService,

			// Storage and coordination
			postgres.NewDB,
			postgres.NewClient,
			redis.NewClient,
			cache.Initialize,
			lock.NewLocker,
			pubsub.NewPublisher,

			// Billing provider
			stripe.NewClient,
			provideInvoiceRepository,
			provideChargeGateway,
			provideBalanceRepository,
			provideManualCreditRepository,

			// Services
			service.NewServiceParams,
			service.NewSettlementService,

			// Handlers
			provideHandlers,
			api.NewRouter,
		),
		fx.Invoke(
			startSentry,
			startProfiler,
			startServer,
		),
	)

	app.Run()
}

func provideInvoiceRepository(client *stripe.Client) invoice.Repository {
	return stripe.NewInvoiceRepository(client)
}

func provideChargeGateway(client *stripe.Client) settlement.ChargeGateway {
	return stripe.NewChargeGateway(client)
}

func provideBalanceRepository(client *stripe.Client) settlement.BalanceRepository {
	return stripe.NewBalanceRepository(client)
}

// provideManualCreditRepository stores manual credits in postgres when it is configured.
func provideManualCreditRepository(lc fx.Lifecycle, pg *postgres.Client, log *logger.Logger) settlement.ManualCreditRepository {
	if pg == nil {
		log.Warnw("postgres not configured, manual credits are kept in memory")
		return memory.NewManualCreditRepository()
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return pgrepo.EnsureSchema(ctx, pg)
		},
		OnStop: func(ctx context.Context) error {
			return pg.Close()
		},
	})
	return pgrepo.NewManualCreditRepository(pg, log)
}

func provideHandlers(svc service.SettlementService, log *logger.Logger) api.Handlers {
	return api.Handlers{
		Health:     v1.NewHealthHandler(log),
		Settlement: v1.NewSettlementHandler(svc, log),
	}
}

func startSentry(lc fx.Lifecycle, svc *sentry.Service) error {
	if err := svc.Init(); err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			svc.Flush(2 * time.Second)
			return nil
		},
	})
	return nil
}

func startProfiler(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) error {
	if !cfg.Pyroscope.Enabled {
		return nil
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Pyroscope.AppName,
		ServerAddress:   cfg.Pyroscope.ServerAddress,
		Tags: map[string]string{
			"environment": cfg.Deployment.Environment,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return err
	}
	log.Infow("pyroscope profiler started", "server", cfg.Pyroscope.ServerAddress)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	return nil
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	router *gin.Engine,
	publisher pubsub.EventPublisher,
	redisClient *redis.Client,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting settlement server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("server failed: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("shutting down settlement server")
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			if err := publisher.Close(); err != nil {
				log.Warnw("failed to close event publisher", "error", err)
			}
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return nil
		},
	})
}
