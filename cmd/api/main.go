package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bytefrontng/bytefront-backend/api/routes"
	"github.com/bytefrontng/bytefront-backend/internal/auth"
	"github.com/bytefrontng/bytefront-backend/internal/cartsession"
	"github.com/bytefrontng/bytefront-backend/internal/cartstore"
	"github.com/bytefrontng/bytefront-backend/internal/catalog"
	"github.com/bytefrontng/bytefront-backend/internal/checkout"
	"github.com/bytefrontng/bytefront-backend/internal/messages"
	"github.com/bytefrontng/bytefront-backend/internal/notifications"
	"github.com/bytefrontng/bytefront-backend/internal/orders"
	"github.com/bytefrontng/bytefront-backend/internal/users"
	"github.com/bytefrontng/bytefront-backend/pkg/auth/session"
	"github.com/bytefrontng/bytefront-backend/pkg/config"
	"github.com/bytefrontng/bytefront-backend/pkg/db"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/migrate"
	"github.com/bytefrontng/bytefront-backend/pkg/outbox"
	"github.com/bytefrontng/bytefront-backend/pkg/redis"
	"github.com/bytefrontng/bytefront-backend/pkg/storage/gcs"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis client", err)
		}
	}()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(ctx, "error closing gcs client", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(ctx, "failed to create session manager", err)
		os.Exit(1)
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	userRepo := users.NewRepository(dbClient.DB())
	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       userRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(ctx, "failed to create auth service", err)
		os.Exit(1)
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())
	catalogService, err := catalog.NewService(catalogRepo, dbClient, outboxSvc)
	if err != nil {
		logg.Error(ctx, "failed to create catalog service", err)
		os.Exit(1)
	}

	cartStore, err := cartstore.NewStore(redisClient, logg)
	if err != nil {
		logg.Error(ctx, "failed to create cart store", err)
		os.Exit(1)
	}
	cartSessions, err := cartsession.NewManager(cartStore, logg, cfg.Cart)
	if err != nil {
		logg.Error(ctx, "failed to create cart session manager", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersService, err := orders.NewService(ordersRepo, dbClient, outboxSvc)
	if err != nil {
		logg.Error(ctx, "failed to create orders service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(
		ordersRepo,
		catalogRepo,
		cartSessions,
		dbClient,
		outboxSvc,
		logg,
		cfg.Cart.ShippingFeeKobo,
	)
	if err != nil {
		logg.Error(ctx, "failed to create checkout service", err)
		os.Exit(1)
	}

	messagesService, err := messages.NewService(messages.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(ctx, "failed to create messages service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(ctx, "failed to create notifications service", err)
		os.Exit(1)
	}

	port := cfg.App.Port
	if fromEnv := os.Getenv("PORT"); fromEnv != "" {
		port = fromEnv
	}
	addr := ":" + port

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instanceID(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:  cfg,
			Logger:  logg,
			DB:      dbClient,
			Redis:   redisClient,
			GCS:     gcsClient,
			Session: sessionManager,

			AuthService:          authService,
			CatalogService:       catalogService,
			CartSessions:         cartSessions,
			CheckoutService:      checkoutService,
			OrdersService:        ordersService,
			MessagesService:      messagesService,
			NotificationsService: notificationsService,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logg.Info(ctx, "starting api server")

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-stopCh:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}

	// Closing the cart manager flushes any pending debounced cart writes.
	if err := cartSessions.Close(); err != nil {
		logg.Error(ctx, "error closing cart sessions", err)
	}

	logg.Info(ctx, "api server shutting down gracefully")
}

func instanceID() string {
	if dyno := os.Getenv("DYNO"); dyno != "" {
		return dyno
	}
	host, err := os.Hostname()
	if err != nil {
		return "api-0"
	}
	return host
}
