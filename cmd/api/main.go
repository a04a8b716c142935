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

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/bazario/commerce-core/internal/handlers"
	"github.com/bazario/commerce-core/internal/platform/auth"
	"github.com/bazario/commerce-core/internal/platform/config"
	"github.com/bazario/commerce-core/internal/platform/events"
	pfirestore "github.com/bazario/commerce-core/internal/platform/firestore"
	"github.com/bazario/commerce-core/internal/platform/observability"
	firestoreRepo "github.com/bazario/commerce-core/internal/repositories/firestore"
	"github.com/bazario/commerce-core/internal/services"
)

const envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("missing required configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	pubsubClient, err := newPubSubClient(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	eventTopic := pubsubClient.Topic(cfg.PubSub.EventTopic)
	defer eventTopic.Stop()
	if exists, err := eventTopic.Exists(ctx); err != nil {
		logger.Warn("pubsub topic check failed", zap.String("topic", cfg.PubSub.EventTopic), zap.Error(err))
	} else if !exists {
		logger.Warn("pubsub topic does not exist; domain events will fail to publish", zap.String("topic", cfg.PubSub.EventTopic))
	}

	publisher, err := events.NewPubSubPublisher(eventTopic)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}

	couponRepo, err := firestoreRepo.NewCouponRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise coupon repository", zap.Error(err))
	}
	returnRepo, err := firestoreRepo.NewReturnRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise return repository", zap.Error(err))
	}

	couponService, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: couponRepo,
		Clock:   time.Now,
		Events:  publisher,
		Logger:  serviceLogger(logger.Named("coupons")),
	})
	if err != nil {
		logger.Fatal("failed to initialise coupon service", zap.Error(err))
	}
	returnService, err := services.NewReturnService(services.ReturnServiceDeps{
		Returns: returnRepo,
		Clock:   time.Now,
		Events:  publisher,
		Logger:  serviceLogger(logger.Named("returns")),
	})
	if err != nil {
		logger.Fatal("failed to initialise return service", zap.Error(err))
	}

	couponHandlers := handlers.NewCouponHandlers(couponService)
	returnHandlers := handlers.NewReturnHandlers(returnService)

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		auth.Middleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessProbe("firestore", func(ctx context.Context) error {
			iter := firestoreClient.Collections(ctx)
			_, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		}),
		handlers.WithReadinessProbe("pubsub", func(ctx context.Context) error {
			exists, err := eventTopic.Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("topic %s does not exist", cfg.PubSub.EventTopic)
			}
			return nil
		}),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithReturnRoutes(returnHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("commerce-core api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Client, error) {
	// The pubsub client picks up PUBSUB_EMULATOR_HOST on its own; mirror the
	// configured value into the environment so both agree.
	if cfg.EmulatorHost != "" && os.Getenv(envPubSubEmulatorHost) == "" {
		_ = os.Setenv(envPubSubEmulatorHost, cfg.EmulatorHost)
	}
	return pubsub.NewClient(ctx, cfg.ProjectID)
}

func serviceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}
