package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kakeibo/internal/amqp"
	"kakeibo/internal/cli"
	"kakeibo/internal/ingest"
	applog "kakeibo/internal/log"
	"kakeibo/internal/vision"
	"kakeibo/internal/worker"
)

// sweepInterval is how often the worker re-scans the photo directory
// for photos that never made it onto the queue.
const sweepInterval = time.Hour

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting kakeibo-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	extractor, err := vision.NewGeminiExtractor(ctx, cfg.GeminiModel)
	if err != nil {
		logger.Error("Failed to initialize Gemini extractor", "error", err, "model", cfg.GeminiModel)
		os.Exit(1)
	}

	service := ingest.NewService(repo, extractor, applog.New(applog.DefaultConfig()))
	ingestWorker := worker.NewIngestWorker(service, cfg.PhotoDir, cfg.SupportsImage)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// On startup, pick up photos dropped into the directory while the
	// worker was down.
	logger.Info("Performing startup photo sweep", "dir", cfg.PhotoDir)
	if err := ingestWorker.SweepPhotoDir(ctx); err != nil {
		logger.Error("Startup photo sweep failed", "error", err)
		// Don't exit - continue with normal operation
	}

	go func() {
		err := amqpClient.ConsumeIngest(ctx, func(msg *amqp.IngestMessage) error {
			return ingestWorker.HandleIngestMessage(ctx, msg)
		})
		if err != nil && err != context.Canceled {
			logger.Error("Message consumption failed", "error", err)
		}
		cancel()
	}()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ingestWorker.SweepPhotoDir(ctx); err != nil {
					logger.Error("Periodic photo sweep failed", "error", err)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down worker...")
	cancel()

	// Give the consumer a moment to ack in-flight deliveries.
	time.Sleep(2 * time.Second)
	logger.Info("Worker stopped")
}
