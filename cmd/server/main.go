package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forkchat/internal/app"
	"forkchat/internal/auth"
	"forkchat/internal/config"
	chatService "forkchat/internal/domain/services/chat"
	"forkchat/internal/handler"
	"forkchat/internal/middleware"
	"forkchat/internal/queue/rabbitmq"
	"forkchat/internal/service/chat"
	"forkchat/internal/service/chat/generation"
	"forkchat/internal/service/chat/streaming"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds draining HTTP connections and running generations
const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, closeLog, err := config.NewLogger(cfg, "server")
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"generation_queue", cfg.GenerationQueue,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Authentication
	var verifier auth.Verifier
	if cfg.JWKSURL != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		verifier = jwks
	} else {
		logger.Warn("AUTH_JWKS_URL not set - every request runs as the development user", "user_id", cfg.DevUserID)
		verifier = auth.NewStaticVerifier(cfg.DevUserID)
	}
	defer verifier.Close()

	storage, err := app.SetupStorage(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up storage: %v", err)
	}
	defer storage.Close()

	streams, closeStreams, err := app.SetupStreams(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up stream store: %v", err)
	}
	defer closeStreams()

	capabilityRegistry, providerRegistry, err := app.SetupProviders(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up providers: %v", err)
	}

	// Generation engine
	hub := streaming.NewHub()
	aux := generation.NewAuxiliary(providerRegistry, cfg.TitleModel)
	runner := app.NewRunner(cfg, storage, providerRegistry, streams, hub, aux, logger)
	executor := streaming.NewExecutor(runner, logger)

	var scheduler chatService.Scheduler = executor
	if cfg.GenerationQueue == config.QueueRabbitMQ {
		conn, err := rabbitmq.Dial(cfg.AMQPURL, cfg.GenerationQueueName)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer conn.Close()
		scheduler = rabbitmq.NewScheduler(conn, executor, logger)
		logger.Info("background generations go through RabbitMQ", "queue", cfg.GenerationQueueName)
	}

	chatSvc := chat.NewService(chat.Config{
		Threads:      storage.Threads,
		Messages:     storage.Messages,
		TxManager:    storage.TxManager,
		Providers:    providerRegistry,
		Scheduler:    scheduler,
		Canceller:    executor,
		Streams:      streams,
		Auxiliary:    aux,
		Limiter:      chat.NewSubmitLimiter(cfg.SubmitRatePerMinute, cfg.SubmitBurst),
		DefaultModel: cfg.DefaultModel,
		StaleAfter:   cfg.StaleGenerationAfter,
		Logger:       logger,
	})

	healthDeps := map[string]handler.Pinger{"redis": streams}
	if storage.Pool != nil {
		healthDeps["postgres"] = storage.Pool
	}

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.Handlers{
		Threads: handler.NewThreadHandler(chatSvc, logger),
		Stream:  handler.NewStreamHandler(chatSvc, hub, streams, logger),
		Models:  handler.NewModelsHandler(capabilityRegistry, providerRegistry, logger),
		Health:  handler.NewHealthHandler(healthDeps, map[string]handler.Gauge{
			"running_generations": executor.Running,
			"live_connections":    hub.Connections,
		}, logger),
	}, middleware.RequireAuth(verifier, logger))

	// Order: CORS → Recovery → Routes (auth is applied per route)
	var h http.Handler = mux
	h = middleware.Recovery(logger)(h)

	// CORS - Must be outermost to answer OPTIONS pre-flight requests
	h = middleware.CORS(cfg.CORSOrigins)(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived NDJSON streams
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "error", err)
		}
		return executor.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
