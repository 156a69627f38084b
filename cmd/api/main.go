package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/curryleaf/api/internal/handlers"
	"github.com/curryleaf/api/internal/notify"
	"github.com/curryleaf/api/internal/payments"
	"github.com/curryleaf/api/internal/platform/config"
	pfirestore "github.com/curryleaf/api/internal/platform/firestore"
	"github.com/curryleaf/api/internal/platform/jobs"
	"github.com/curryleaf/api/internal/platform/observability"
	"github.com/curryleaf/api/internal/platform/secrets"
	"github.com/curryleaf/api/internal/receipt"
	firestoreRepo "github.com/curryleaf/api/internal/repositories/firestore"
	"github.com/curryleaf/api/internal/services"
	"github.com/curryleaf/api/internal/tracking"
)

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

	configOpts := []config.Option{}
	fetcher := newSecretFetcher(ctx, logger)
	if fetcher != nil {
		defer func() {
			if err := fetcher.Close(); err != nil {
				logger.Warn("secret fetcher close error", zap.Error(err))
			}
		}()
		configOpts = append(configOpts, config.WithSecretResolver(config.SecretResolverFunc(fetcher.ResolveSecret)))
	}

	cfg, err := config.Load(ctx, configOpts...)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}

	var paymentProvider payments.Provider
	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Stripe.APIKey,
			Logger: observability.EventLogger(),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe provider", zap.Error(err))
		}
		paymentProvider = stripeProvider
	} else {
		logger.Warn("stripe api key not configured; capture confirmation disabled")
	}

	trackingProvider, err := tracking.NewProvider(cfg.Tracking.PublicBaseURL)
	if err != nil {
		logger.Fatal("failed to initialise tracking provider", zap.Error(err))
	}

	receiptRenderer := receipt.NewRenderer(receipt.StoreIdentity{
		Name:    cfg.Store.Name,
		Address: cfg.Store.Address,
		Phone:   cfg.Store.Phone,
		Email:   cfg.Store.Email,
	})

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		From:      cfg.SMTP.From,
		StoreName: cfg.Store.Name,
		Logger:    observability.EventLogger(),
	})
	if dispatcher == nil {
		logger.Warn("smtp transport not configured; ready notifications disabled")
	}

	var eventPublisher services.OrderEventPublisher
	var pubsubClient *pubsub.Client
	if cfg.Jobs.ProjectID != "" && cfg.Jobs.OrderEventTopic != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Jobs.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		publisher, err := jobs.NewPubSubOrderEventPublisher(pubsubClient.Topic(cfg.Jobs.OrderEventTopic))
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		eventPublisher = publisher
	}
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   orderRepo,
		Payments: paymentProvider,
		Receipts: receiptRenderer,
		Tracking: trackingProvider,
		Notifier: dispatcher,
		Events:   eventPublisher,
		Logger:   observability.EventLogger(),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	orderHandlers := handlers.NewOrderHandlers(orderService)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			iter := firestoreClient.Collections(probeCtx)
			if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
				return err
			}
			return nil
		}),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
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
		serverLogger.Info("curryleaf api listening")
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

// newSecretFetcher builds the Secret Manager resolver when a project is
// available. Local runs without GCP credentials proceed without one; any
// secret:// reference will then fail at load time with a clear error.
func newSecretFetcher(ctx context.Context, logger *zap.Logger) *secrets.Fetcher {
	projectID := strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT_ID"))
	if projectID == "" {
		return nil
	}

	fetcher, err := secrets.NewFetcher(ctx, projectID, secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		logger.Warn("secret manager unavailable; secret references will not resolve", zap.Error(err))
		return nil
	}
	return fetcher
}
