package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	_ "github.com/noah-isme/eventos-api/api/swagger"
	"github.com/noah-isme/eventos-api/internal/handler"
	"github.com/noah-isme/eventos-api/internal/repository"
	"github.com/noah-isme/eventos-api/internal/router"
	"github.com/noah-isme/eventos-api/internal/service"
	"github.com/noah-isme/eventos-api/pkg/broker"
	"github.com/noah-isme/eventos-api/pkg/cache"
	"github.com/noah-isme/eventos-api/pkg/config"
	"github.com/noah-isme/eventos-api/pkg/database"
	"github.com/noah-isme/eventos-api/pkg/jobs"
	"github.com/noah-isme/eventos-api/pkg/logger"
	"github.com/noah-isme/eventos-api/pkg/mailer"
	"github.com/noah-isme/eventos-api/pkg/storage"
)

// @title Eventos API
// @version 1.0.0
// @description Event enrollment and payment review backend
// @BasePath /api
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	decimal.MarshalJSONWithoutQuotes = true
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), time.Minute)
	db, err := database.NewPostgres(connectCtx, cfg.Database)
	cancelConnect()
	if err != nil {
		logr.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := database.EnsureSchema(ctx, db)
		cancel()
		if err != nil {
			logr.Fatal("schema migration failed", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, cache disabled", zap.Error(err))
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	store, err := storage.NewLocalStorage(cfg.Uploads.Dir, cfg.Uploads.MaxFileSizeBytes, cfg.Uploads.AllowedMIMEs)
	if err != nil {
		logr.Fatal("upload storage unavailable", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Receipts.SignedURLSecret, cfg.Receipts.SignedURLTTL)

	var sender mailer.Sender = mailer.NewLogMailer(logr)
	if cfg.SMTP.Enabled {
		sender = mailer.NewSMTPMailer(cfg.SMTP)
	}

	var publisher broker.Publisher = broker.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := broker.NewSyncProducer(cfg.Kafka)
		if err != nil {
			logr.Fatal("kafka producer failed", zap.Error(err), zap.Strings("brokers", cfg.Kafka.Brokers))
		}
		publisher = broker.NewKafkaPublisher(producer, cfg.Kafka.PaymentsTopic, logr)
	}
	defer publisher.Close() //nolint:errcheck

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	eventRepo := repository.NewEventRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	worker := service.NewNotificationWorker(sender, publisher, metrics, logr)
	queue := jobs.NewQueue("notifications", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		BufferSize: cfg.Notify.BufferSize,
		MaxRetries: cfg.Notify.Retries,
		RetryDelay: cfg.Notify.RetryDelay,
		Logger:     logr,
		OnDiscard:  worker.Discarded,
	})
	queue.Start(context.Background())
	defer queue.Stop()

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.PendingPaymentsTTL, logr, cfg.Cache.Enabled && redisClient != nil)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.Session.Secret,
		Expiration: cfg.Session.Expiration,
		Issuer:     cfg.Session.Issuer,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	eventSvc := service.NewEventService(eventRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(eventRepo, enrollmentRepo, metrics, validate, logr)
	notifier := service.NewNotificationService(queue, metrics, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, enrollmentRepo, store, signer, notifier, cacheSvc, metrics, validate, logr, service.PaymentConfig{
		PendingCacheTTL: cfg.Cache.PendingPaymentsTTL,
		DownloadPath:    cfg.APIPrefix + "/pagos/comprobantes/descargar",
	})
	exportSvc := service.NewExportService(paymentRepo, logr, nil, nil)

	checks := map[string]handler.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return db.PingContext(ctx) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := router.New(router.Options{
		Logger:         logr,
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Auth:           authSvc,
		Metrics:        metrics,
		Users:          handler.NewUserHandler(userSvc),
		Sessions:       handler.NewAuthHandler(authSvc),
		Events:         handler.NewEventHandler(eventSvc, enrollmentSvc),
		Enrollments:    handler.NewEnrollmentHandler(enrollmentSvc),
		Payments:       handler.NewPaymentHandler(paymentSvc, exportSvc, cfg.Uploads.MaxFileSizeBytes),
		Ops:            handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("forced shutdown", zap.Error(err))
	}
}
