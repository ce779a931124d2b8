package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"gold-exchange-go/internal/alerting"
	"gold-exchange-go/internal/config"
	"gold-exchange-go/internal/database"
	"gold-exchange-go/internal/events"
	"gold-exchange-go/internal/fee"
	"gold-exchange-go/internal/ledger"
	"gold-exchange-go/internal/logger"
	"gold-exchange-go/internal/matching"
	"gold-exchange-go/internal/pipeline"
	"gold-exchange-go/internal/queue"
	"gold-exchange-go/internal/settlement"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	strategy, err := fee.NewStrategy(cfg.Fee)
	if err != nil {
		log.Fatal("Invalid fee configuration", zap.Error(err))
	}
	log.Info("Using fee strategy", zap.String("strategy", strategy.Name()))

	publisher := events.NewPublisher(cfg.Events, log)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("Failed to close trade publisher", zap.Error(err))
		}
	}()

	matcher := matching.NewMatcher(db, strategy, cfg.Matching.ChunkSize, log)
	executor := settlement.NewExecutor(db, matcher, ledger.NewLedger(db, log), publisher, log)
	jobs := queue.New(db, cfg.Queue, log)
	p := pipeline.New(db, jobs, matcher, executor, alerting.NewNotifier(cfg.Alerting, log), pipeline.NewRetryPolicy(cfg.Settlement), log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	pipeline.NewRunner(jobs, p, cfg.Queue, log).Run(ctx)

	log.Info("Worker has been shut down.")
}
