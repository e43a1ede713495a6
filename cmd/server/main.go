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

	"tradehub/config"
	"tradehub/internal/api"
	"tradehub/internal/auth"
	"tradehub/internal/broker"
	"tradehub/internal/history"
	"tradehub/internal/realtime"
	"tradehub/internal/redisclient"
	"tradehub/internal/service"
	"tradehub/internal/store"
	"tradehub/internal/store/memory"
	"tradehub/internal/util"
	"tradehub/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// dataStore is satisfied by both the Postgres and the in-memory store
type dataStore interface {
	service.OrderRepository
	service.ListingCatalog
	service.SampleRepository
	service.NegotiationRepository
	service.ReviewRepository
	service.NotificationRepository
	service.ChatRepository
	service.StatsRepository
	Ping(ctx context.Context) error
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (dataStore, func() error, error) {
	if cfg.Driver == "memory" {
		return memory.New(), func() error { return nil }, nil
	}
	db, err := store.NewStore(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, db.Close, nil
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting tradehub")

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	ctx := context.Background()

	db, closeDB, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeDB()
	logger.Info("Store ready", zap.String("driver", cfg.Database.Driver))
	ready := []api.Pinger{db}

	var (
		catalog     service.ListingCatalog = db
		idempotency service.IdempotencyStore
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected")

		idempotency = redisClient
		catalog = service.NewCachedCatalog(db, redisClient, 30*time.Second)
		ready = append(ready, redisClient)
	}

	fx := service.Effects{}
	if cfg.Mongo.URL != "" {
		recorder, err := history.Connect(ctx, cfg.Mongo.URL, cfg.Mongo.Database)
		if err != nil {
			logger.Fatal("Failed to connect to Mongo", zap.Error(err))
		}
		defer recorder.Close(context.Background())
		fx.History = recorder
		logger.Info("Status history enabled")
	}

	notifications := service.NewNotificationService(db)
	fx.Notifier = notifications
	stats := service.NewStatsService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var statsWorker *worker.StatsWorker
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		fx.Events = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized")

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
		statsWorker = worker.NewStatsWorker(consumer, stats)
		go func() {
			if err := statsWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Stats worker error", zap.Error(err))
			}
		}()
	} else {
		fx.Events = broker.NewLocalPublisher(stats.HandleTransactionEvent)
		logger.Info("No Kafka brokers configured, applying events in-process")
	}

	orders := service.NewOrderService(db, catalog, idempotency, fx, service.OrderServiceConfig{
		MaxActiveOrdersPerSeller: cfg.Business.MaxActiveOrdersPerSeller,
		IdempotencyTTL:           cfg.Business.IdempotencyTTL,
	})
	chat := service.NewChatService(db, db, fx, cfg.Business.ChatMessageMaxLength)
	services := api.Services{
		Orders:        orders,
		Samples:       service.NewSampleService(db, catalog, fx),
		Negotiations:  service.NewNegotiationService(db, db, fx, cfg.Business.NegotiationTTL),
		Notifications: notifications,
		Reviews:       service.NewReviewService(db, db, db, fx),
		Chat:          chat,
		Stats:         stats,
	}

	tokens := auth.NewValidator(cfg.Auth.JWTSecret)
	hub := realtime.NewHub(tokens, notifications, chat)
	notifications.SetPusher(hub.Presence())

	sweeper := worker.NewNotificationSweeper(notifications, cfg.Business.NotificationSweepInterval)
	go sweeper.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, hub, tokens, ready...)
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

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if statsWorker != nil {
		statsWorker.Stop()
	}

	logger.Info("Server exited")
}
