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

	appconnector "github.com/erp/posconnector/internal/application/connector"
	apppos "github.com/erp/posconnector/internal/application/pos"
	"github.com/erp/posconnector/internal/infrastructure/cache"
	"github.com/erp/posconnector/internal/infrastructure/config"
	"github.com/erp/posconnector/internal/infrastructure/logger"
	"github.com/erp/posconnector/internal/infrastructure/migration"
	"github.com/erp/posconnector/internal/infrastructure/persistence"
	"github.com/erp/posconnector/internal/infrastructure/pos"
	"github.com/erp/posconnector/internal/infrastructure/scheduler"
	"github.com/erp/posconnector/internal/infrastructure/telemetry"
	"github.com/erp/posconnector/internal/interfaces/http/handler"
	"github.com/erp/posconnector/internal/interfaces/http/middleware"
	"github.com/erp/posconnector/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration, reporting failures through a bootstrap logger
	cfg, err := config.Load()
	if err != nil {
		boot, logErr := logger.NewForEnvironment(os.Getenv("POSSYNC_APP_ENV"), "posconnector")
		if logErr != nil {
			panic("Failed to load configuration: " + err.Error())
		}
		boot.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}, cfg.App.Name)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting POS connector",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	meter := meterProvider.Meter(cfg.Telemetry.ServiceName)
	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = logsProvider.Bridge(log, logger.ParseLevel(cfg.Log.Level))

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if cfg.Database.AutoMigrate {
		if err := migrate(db, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	dbTracing := telemetry.NewDBTracing(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, log)
	if err := dbTracing.Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	dbMetrics, err := telemetry.NewDBMetrics(meter, telemetry.DBMetricsConfig{
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err != nil {
		log.Fatal("Failed to create database metrics", zap.Error(err))
	}
	if err := dbMetrics.Register(db.DB); err != nil {
		log.Fatal("Failed to register database metrics", zap.Error(err))
	}
	dbMetrics.Start(ctx)
	defer dbMetrics.Stop()

	// Repositories
	backendRepo := persistence.NewGormBackendRepository(db.DB)
	jobRepo := persistence.NewGormJobRepository(db.DB)
	scope := persistence.NewGormTransactionScope(db.DB)

	// Job queue
	identities := cache.NewIdentityStore(ctx, cfg.Redis, log)
	defer func() {
		if err := identities.Close(); err != nil {
			log.Error("Error closing identity store", zap.Error(err))
		}
	}()
	jobScheduler, err := scheduler.NewJobScheduler(scheduler.ConfigFromSettings(cfg.Scheduler), jobRepo, identities, log)
	if err != nil {
		log.Fatal("Failed to create job scheduler", zap.Error(err))
	}
	syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:  meter,
		Logger: log,
		Jobs:   jobRepo,
	})
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}
	jobScheduler.SetObserver(syncMetrics)
	syncMetrics.StartPeriodicCollection(ctx)
	defer syncMetrics.Stop()

	// Connector components
	registry := appconnector.NewRegistry()
	apppos.Register(registry, posConfig(cfg.POS))
	adapters := pos.NewAdapterFactory(cfg.POS, log)

	backendService := appconnector.NewBackendService(backendRepo, registry, adapters, scope, jobScheduler, log,
		appconnector.BackendServiceConfig{
			RefreshChain: apppos.RefreshChain(),
			Priorities:   apppos.Priorities(),
			Channel:      cfg.Scheduler.Channel,
			PageSize:     cfg.POS.PageSize,
			MaxRetries:   cfg.Scheduler.MaxRetries,
		})
	exportListener := appconnector.NewExportListener(backendRepo, registry, jobScheduler, log)
	recordService := appconnector.NewRecordService(scope, exportListener, log)
	jobScheduler.SetRunner(appconnector.NewJobRunner(backendService))

	if cfg.Scheduler.Enabled {
		if err := jobScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start job scheduler", zap.Error(err))
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.JobTimeout)
			defer cancel()
			if err := jobScheduler.Stop(stopCtx); err != nil {
				log.Error("Error stopping job scheduler", zap.Error(err))
			}
		}()
	} else {
		log.Info("Job scheduler disabled, jobs are queued but not run by this process")
	}

	if cfg.Scheduler.Enabled && cfg.Scheduler.CronEnabled {
		cronCfg := scheduler.DefaultCronTriggerConfig()
		cronCfg.Channel = cfg.Scheduler.Channel
		cronCfg.MaxRetries = cfg.Scheduler.MaxRetries
		cron := scheduler.NewCronTrigger(cronCfg, jobScheduler, backendRepo, log)
		if err := cron.Start(ctx); err != nil {
			log.Fatal("Failed to start cron trigger", zap.Error(err))
		}
		defer func() {
			if err := cron.Stop(context.Background()); err != nil {
				log.Error("Error stopping cron trigger", zap.Error(err))
			}
		}()
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}
	engine.Use(
		middleware.Tracing(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     tracerProvider.IsEnabled(),
		}),
		logger.GinMiddleware(log),
		middleware.SpanAttributes(),
		logger.Recovery(log),
		middleware.Secure(),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		middleware.Timeout(cfg.HTTP.WriteTimeout),
		middleware.HTTPMetrics(meter, log),
	)

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version).
		AddCheck("database", func(context.Context) error { return db.Ping() }).
		AddCheck("scheduler", func(context.Context) error {
			if cfg.Scheduler.Enabled && !jobScheduler.IsRunning() {
				return errors.New("not running")
			}
			return nil
		})

	var routerOpts []router.RouterOption
	if cfg.Auth.Enabled {
		routerOpts = append(routerOpts, router.WithMiddleware(middleware.JWTAuth(middleware.JWTConfig{
			Secret: []byte(cfg.Auth.Secret),
			Issuer: cfg.Auth.Issuer,
			Logger: log,
		})))
	} else {
		log.Warn("API authentication disabled")
	}
	r := router.NewRouter(engine, routerOpts...)
	r.Register(router.ConnectorGroups(router.Handlers{
		Backends: handler.NewBackendHandler(backendRepo, backendService),
		Bindings: handler.NewBindingHandler(backendService),
		Jobs:     handler.NewJobHandler(jobRepo, jobScheduler),
		Records:  handler.NewRecordHandler(recordService),
		System:   systemHandler,
	})...)
	r.Setup()
	router.RegisterHealth(engine, systemHandler)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serverErr:
		log.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := logsProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// migrate applies the embedded SQL migrations
func migrate(db *persistence.Database, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.NewEmbedded(sqlDB, log)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// posConfig converts the pos settings into the entity configuration
func posConfig(c config.POSConfig) apppos.Config {
	out := apppos.DefaultConfig()
	for method, rule := range c.PaymentRules {
		out.PaymentRules[method] = apppos.PaymentRule(rule)
	}
	out.DefaultPaymentRule = apppos.PaymentRule(c.DefaultPaymentRule)
	out.UnpaidRetryAfter = c.UnpaidRetryAfter
	out.LockRetry = c.LockRetry
	out.OrderBatchMode = appconnector.BatchMode(c.OrderBatchMode)
	return out
}
