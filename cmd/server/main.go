package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gatewayd.backend/internal/confirmator"
	"gatewayd.backend/internal/config"
	"gatewayd.backend/internal/domain/entities"
	"gatewayd.backend/internal/ingest"
	"gatewayd.backend/internal/ingest/evmadapter"
	"gatewayd.backend/internal/interfaces/http/handlers"
	"gatewayd.backend/internal/interfaces/http/metrics"
	"gatewayd.backend/internal/interfaces/http/middleware"
	"gatewayd.backend/internal/store"
	"gatewayd.backend/internal/supervisor"
	"gatewayd.backend/pkg/jwt"
	"gatewayd.backend/pkg/logger"
)

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	openDB     = func(dsn string) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt: false,
		})
	}
	getStdDB  = func(db *gorm.DB) (*sql.DB, error) { return db.DB() }
	runServer = func(r *gin.Engine, port string) error { return r.Run(":" + port) }
	dialLease = dialLeaseClient
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	if err := loadDotenv(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg := loadCfg()
	initLog(cfg.Server.Env)
	logger.Info(context.Background(), "logger initialized", zap.String("env", cfg.Server.Env))

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := getStdDB(db)
	if err != nil {
		return fmt.Errorf("failed to get generic database object: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Printf("database not available: %v (endpoints will return errors)", err)
	} else {
		log.Println("connected to postgres via gorm")
	}

	gormStore := store.NewGormStore(db)
	if err := gormStore.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	if leaseClient, err := dialLease(cfg.Redis.URL, cfg.Redis.Password); err != nil {
		logger.Warn(context.Background(), "webhook lease redis unavailable, continuing without the lease safety net", zap.Error(err))
	} else {
		gormStore.WithLeaseClient(leaseClient, cfg.Pipeline.WebhookLeaseTTL)
	}

	if err := gormStore.LoadCaches(context.Background()); err != nil {
		return fmt.Errorf("failed to load caches from durable state: %w", err)
	}

	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)

	sup := supervisor.New(gormStore, evmDial, supervisor.Config{
		EventChannelSize:      cfg.Pipeline.EventChannelSize,
		JanitorInterval:       cfg.Pipeline.JanitorInterval,
		ConfirmInterval:       cfg.Pipeline.ConfirmInterval,
		DispatchInterval:      cfg.Pipeline.DispatchInterval,
		WebhookTimeout:        cfg.Pipeline.WebhookTimeout,
		WebhookLeaseBatch:     cfg.Pipeline.WebhookLeaseBatch,
		WebhookMaxRetries:     cfg.Pipeline.WebhookMaxRetries,
		WebhookFallbackSecret: cfg.Security.WebhookSigningKeyFallback,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	metricsRegistry := metrics.New()
	chainHandler := handlers.NewChainHandler(gormStore, sup)
	tokenHandler := handlers.NewTokenHandler(gormStore)
	invoiceHandler := handlers.NewInvoiceHandler(gormStore, sup)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(metricsRegistry.Middleware())

	handlers.RegisterHealthRoute(r)
	r.GET("/metrics", metricsRegistry.Handler())
	registerAPIV1Routes(r, routeDeps{
		chainHandler:   chainHandler,
		tokenHandler:   tokenHandler,
		invoiceHandler: invoiceHandler,
		adminAuth:      middleware.AdminAuth(jwtService),
	})

	log.Println("registered routes:")
	for _, route := range r.Routes() {
		log.Printf("  %s %s", route.Method, route.Path)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("shutting down")
		cancel()
		sup.Wait()
	}()

	log.Printf("gatewayd starting on port %s", cfg.Server.Port)
	if err := runServer(r, cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// dialLeaseClient connects to the Redis instance backing the webhook
// dispatcher's lease safety net. Unlike the teacher's session store, a
// failure here is not fatal: the GormStore simply runs without the per-job
// lease keys; stuck jobs are recovered by the startup sweep LoadCaches runs
// either way.
func dialLeaseClient(url, password string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

// evmDial is the production supervisor.Dial: both the ingestor's
// ChainAdapter and the confirmator's ReceiptFetcher ride the same
// ethclient connection.
func evmDial(chain entities.Chain) (ingest.ChainAdapter, confirmator.ReceiptFetcher, error) {
	client, err := evmadapter.Dial(chain.RPCURL)
	if err != nil {
		return nil, nil, err
	}
	return client, confirmator.NewEVMReceiptFetcher(client), nil
}
