package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-service/config"
	"pos-service/internal/api"
	"pos-service/internal/broker"
	"pos-service/internal/redisclient"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/store/memory"
	"pos-service/internal/util"
	"pos-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting pos service")

	tp, err := util.InitTracer("pos-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	var (
		deps  service.Dependencies
		ready []func(ctx context.Context) error
	)

	switch cfg.Store.Driver {
	case "memory":
		deps.Repo = memory.New()
		logger.Warn("Using in-memory store, data is lost on restart")
	default:
		db, err := store.NewStore(cfg.Store.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		deps.Repo = db
		ready = append(ready, db.GetDB().PingContext)
		logger.Info("Database connected")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, running without stock mirror, live cart or shared lock", zap.Error(err))
	} else {
		defer redisClient.Close()
		deps.Stock = redisClient
		deps.Idempotency = redisClient
		deps.Notifier = redisClient
		deps.Locker = service.NewRedisLocker(redisClient,
			time.Duration(cfg.Business.AccountLockTTLSeconds)*time.Second,
			time.Duration(cfg.Store.TimeoutSeconds)*time.Second)
		ready = append(ready, func(ctx context.Context) error {
			return redisClient.GetClient().Ping(ctx).Err()
		})
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSale)
	defer producer.Close()
	deps.Events = broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized")

	commitCfg := service.CommitConfig{
		Strict:            cfg.Business.StrictCommit,
		NegativeStock:     service.ParseNegativeStockPolicy(cfg.Business.NegativeStockPolicy),
		MaxRetries:        cfg.Business.CommitMaxRetries,
		StoreTimeout:      time.Duration(cfg.Store.TimeoutSeconds) * time.Second,
		IdempotencyTTL:    time.Duration(cfg.Business.IdempotencyTTLHours) * time.Hour,
		LowStockThreshold: cfg.Business.LowStockThreshold,
		DismissAfter:      time.Duration(cfg.Business.ConfirmationDismissSeconds) * time.Second,
	}

	cartService := service.NewCartService(deps, commitCfg, util.Named("cart"))
	saleCommitter := service.NewSaleCommitter(deps, commitCfg, util.Named("sale-committer"))
	catalogService := service.NewCatalogService(deps, commitCfg, util.Named("catalog"))
	analyticsService := service.NewAnalyticsService(deps, commitCfg, util.Named("analytics"))
	compensator := service.NewCompensator(deps, commitCfg, util.Named("compensator"))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	compensationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSale, cfg.Kafka.ConsumerGroup)
	compensationWorker := worker.NewCompensationWorker(compensationConsumer, compensator)
	go func() {
		if err := compensationWorker.Start(workerCtx); err != nil {
			logger.Error("Compensation worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Carts:     cartService,
		Committer: saleCommitter,
		Catalog:   catalogService,
		Analytics: analyticsService,
		Ready: func(ctx context.Context) error {
			for _, probe := range ready {
				if err := probe(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := compensationWorker.Stop(); err != nil {
		logger.Warn("Error stopping compensation worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
