package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/lsxsync/queue-service/internal/api/adminroutes"
	"github.com/lsxsync/queue-service/internal/breaker"
	"github.com/lsxsync/queue-service/internal/configstore"
	"github.com/lsxsync/queue-service/internal/grader"
	"github.com/lsxsync/queue-service/internal/oauthclient"
	"github.com/lsxsync/queue-service/internal/platform/config"
	"github.com/lsxsync/queue-service/internal/platform/database"
	"github.com/lsxsync/queue-service/internal/platform/graceful"
	"github.com/lsxsync/queue-service/internal/platform/logger"
	"github.com/lsxsync/queue-service/internal/platform/metrics"
	"github.com/lsxsync/queue-service/internal/platform/tracing"
	"github.com/lsxsync/queue-service/internal/queue"
	"github.com/lsxsync/queue-service/internal/ratelimiter"
	"github.com/lsxsync/queue-service/internal/vendorclient"
	"github.com/lsxsync/queue-service/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Server.Environment)
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	defer log.Sync()

	tracingShutdown, err := tracing.Init(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Server.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize tracing", "event", "main.tracing_init_failed", "error", err)
	}
	defer tracingShutdown(context.Background())

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", "event", "main.db_connect_failed", "error", err)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath); err != nil {
		log.Fatal("failed to run migrations", "event", "main.migrate_failed", "error", err)
	}

	metrics.MustRegister()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	sqlxDB := sqlx.NewDb(db, "postgres")
	cfgStore := configstore.New(sqlxDB, 30*time.Second, log)
	seedAdminToken(cfgStore, cfg, log)

	breakerRegistry := breaker.NewRegistry()
	vendBreaker := breakerRegistry.Get("vend_http", 5, 30*time.Second)

	limiter := ratelimiter.New(db, log)
	limiter.Configure("vend.http", cfg.Vendor.RateLimitPerMn)

	oauth := oauthclient.New(
		cfg.Vendor.APIBase+"/oauth/token",
		cfg.Vendor.ClientID,
		cfg.Vendor.ClientSecret,
		"",
		log,
	)

	vendClient := vendorclient.New(vendorclient.Config{
		Enabled:       cfgStore.GetBool(context.Background(), configstore.FlagVendHTTPEnabled, true),
		APIBase:       cfg.Vendor.APIBase,
		Timeout:       cfg.Vendor.Timeout,
		RetryAttempts: cfg.Vendor.RetryAttempts,
		RateLimitKey:  "vend.http",
	}, oauth, vendBreaker, limiter, log)

	jobsRepo := queue.NewRepository(db, log)
	cursors := queue.NewCursorStore(db)
	runner := queue.NewRunner(db, jobsRepo, cfgStore, log)

	handlers := queue.NewHandlers(vendClient, cursors, cfgStore, log)
	handlers.RegisterAll(runner)
	runner.RegisterHandler(queue.TypeWebhookEvent, func(ctx context.Context, job *queue.Job) error {
		return webhook.ProcessFanoutJob(ctx, db, jobsRepo, job.Payload)
	})

	receiver := webhook.NewReceiver(db, cfgStore, jobsRepo, log)

	healthGrader := grader.New(db, jobsRepo, vendClient, cfgStore, log)
	if err := healthGrader.Start(""); err != nil {
		log.Fatal("failed to start health grader", "event", "main.grader_start_failed", "error", err)
	}

	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	go runner.RunContinuous(runnerCtx, 5*time.Second)

	router := adminroutes.Setup(db, log, cfgStore, jobsRepo, runner, receiver, healthGrader, []string{"*"})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", "event", "main.listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "event", "main.server_failed", "error", err)
		}
	}()

	manager := graceful.NewManager(server, db, cfg.Server.ShutdownTimeout, log)
	manager.Register(shutdownFunc(func(time.Duration) error {
		cancelRunner()
		healthGrader.Stop()
		return nil
	}))
	manager.WaitForShutdown()
}

// shutdownFunc adapts a plain function to graceful.Shutdowner.
type shutdownFunc func(timeout time.Duration) error

func (f shutdownFunc) Shutdown(timeout time.Duration) error { return f(timeout) }

// seedAdminToken writes ADMIN_BEARER_TOKEN from the bootstrap environment
// into the config store on first run, so the store (not the environment)
// stays the single source of truth the AdminAuth middleware consults.
func seedAdminToken(cfgStore *configstore.Store, cfg *config.Config, log *logger.Logger) {
	if cfg.Server.AdminToken == "" {
		return
	}
	ctx := context.Background()
	_, exists, err := cfgStore.Get(ctx, configstore.FlagAdminBearerToken)
	if err != nil {
		log.Warn("failed to check existing admin token", "event", "main.admin_token_check_failed", "error", err)
		return
	}
	if exists {
		return
	}
	if err := cfgStore.Set(ctx, configstore.FlagAdminBearerToken, cfg.Server.AdminToken); err != nil {
		log.Warn("failed to seed admin token", "event", "main.admin_token_seed_failed", "error", err)
	}
}
