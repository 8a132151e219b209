package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"forkchat/internal/app"
	"forkchat/internal/config"
	"forkchat/internal/queue/rabbitmq"
	"forkchat/internal/service/chat/generation"

	"github.com/joho/godotenv"
)

// The worker runs background generations published to RabbitMQ by the server.
// Live generations never reach it: they need the relay of the server process
// holding the client connection.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, closeLog, err := config.NewLogger(cfg, "worker")
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := app.SetupStorage(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up storage: %v", err)
	}
	defer storage.Close()
	if storage.Pool == nil {
		logger.Warn("worker is using an in-memory store; it cannot see the server's threads")
	}

	streams, closeStreams, err := app.SetupStreams(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up stream store: %v", err)
	}
	defer closeStreams()

	_, providerRegistry, err := app.SetupProviders(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up providers: %v", err)
	}

	aux := generation.NewAuxiliary(providerRegistry, cfg.TitleModel)
	runner := app.NewRunner(cfg, storage, providerRegistry, streams, nil, aux, logger)

	conn, err := rabbitmq.Dial(cfg.AMQPURL, cfg.GenerationQueueName)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()

	// Attempts still running at shutdown are cancelled with ctx and
	// end as cancelled messages.
	worker := rabbitmq.NewWorker(runner, cfg.WorkerConcurrency, logger)
	if err := worker.Consume(ctx, conn); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
