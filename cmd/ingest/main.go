package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"kakeibo/internal/cli"
	"kakeibo/internal/ingest"
	applog "kakeibo/internal/log"
	"kakeibo/internal/vision"
)

// One-shot ingestion: run the pipeline over a photo directory (or
// single files) and print a summary. Useful for bulk imports and for
// running without the queue.
func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	dir := flag.String("dir", "", "photo directory to ingest (default: PHOTO_DIR)")
	flag.Parse()

	cfg := cli.LoadAndValidateConfig(logger)
	if *dir == "" {
		*dir = cfg.PhotoDir
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx := context.Background()

	extractor, err := vision.NewGeminiExtractor(ctx, cfg.GeminiModel)
	if err != nil {
		logger.Error("Failed to initialize Gemini extractor", "error", err, "model", cfg.GeminiModel)
		os.Exit(1)
	}

	service := ingest.NewService(repo, extractor, applog.New(applog.DefaultConfig()))

	var summary ingest.Summary
	if args := flag.Args(); len(args) > 0 {
		// Positional arguments may be photo files or directories.
		for _, path := range args {
			sub, err := service.IngestPath(ctx, path, cfg.SupportsImage)
			if err != nil {
				logger.Error("Ingestion run failed", "error", err, "path", path)
				os.Exit(1)
			}
			summary.Merge(sub)
		}
	} else {
		summary, err = service.IngestDir(ctx, *dir, cfg.SupportsImage)
		if err != nil {
			logger.Error("Ingestion run failed", "error", err, "dir", *dir)
			os.Exit(1)
		}
	}

	fmt.Printf("processed: %d\n", summary.Processed)
	fmt.Printf("  stored:      %d\n", summary.Stored)
	fmt.Printf("  duplicates:  %d\n", summary.Duplicates)
	fmt.Printf("  not receipt: %d\n", summary.NotReceipts)
	fmt.Printf("  failed:      %d\n", summary.Failed)

	for _, res := range summary.Results {
		if res.Status == ingest.StatusFailed {
			fmt.Fprintf(os.Stderr, "failed: %s: %v\n", res.Path, res.Err)
		}
	}

	if summary.Failed > 0 {
		os.Exit(1)
	}
}
