package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gdrive "google.golang.org/api/drive/v3"

	"kakeibo/internal/cli"
	"kakeibo/internal/drive"
	"kakeibo/internal/googleauth"
	applog "kakeibo/internal/log"
)

// Backs up the photo directory and the database to a Drive folder, or
// restores the photos back with -restore.
func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	restore := flag.Bool("restore", false, "download backed up photos instead of uploading")
	withDB := flag.Bool("db", true, "include a dated copy of the database in the backup")
	flag.Parse()

	cfg := cli.LoadAndValidateConfig(logger)

	ctx := context.Background()

	opt, err := googleauth.ClientOption(ctx, cfg.GoogleOAuthClientFile, cfg.GoogleOAuthTokenFile,
		gdrive.DriveFileScope, gdrive.DriveReadonlyScope)
	if err != nil {
		logger.Error("Google authorization failed", "error", err)
		os.Exit(1)
	}

	client, err := drive.NewClient(ctx, opt, cfg.DriveBackupFolder, applog.New(applog.DefaultConfig()))
	if err != nil {
		logger.Error("Failed to initialize Drive client", "error", err)
		os.Exit(1)
	}

	if *restore {
		summary, err := client.RestoreDir(ctx, cfg.PhotoDir, cfg.BackupConcurrency)
		if err != nil {
			logger.Error("Restore failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("downloaded: %d, skipped: %d, failed: %d\n", summary.Uploaded, summary.Skipped, summary.Failed)
		if summary.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	summary, err := client.BackupDir(ctx, cfg.PhotoDir, cfg.SupportsImage, cfg.BackupConcurrency)
	if err != nil {
		logger.Error("Backup failed", "error", err)
		os.Exit(1)
	}

	if *withDB {
		if err := backupDatabase(ctx, client, cfg.SQLiteDBPath); err != nil {
			logger.Error("Database backup failed", "error", err)
			summary.Failed++
		} else {
			summary.Uploaded++
		}
	}

	fmt.Printf("uploaded: %d, skipped: %d, failed: %d\n", summary.Uploaded, summary.Skipped, summary.Failed)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

// backupDatabase uploads a dated copy of the database file so each run
// keeps its own snapshot.
func backupDatabase(ctx context.Context, client *drive.Client, dbPath string) error {
	folderID, err := client.EnsureFolder(ctx)
	if err != nil {
		return err
	}

	snapshot := fmt.Sprintf("kakeibo-%s.db", time.Now().Format("20060102-150405"))
	tmpPath := filepath.Join(os.TempDir(), snapshot)

	src, err := os.ReadFile(dbPath)
	if err != nil {
		return fmt.Errorf("read database: %w", err)
	}
	if err := os.WriteFile(tmpPath, src, 0600); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	defer os.Remove(tmpPath)

	if _, err := client.UploadFile(ctx, tmpPath, folderID); err != nil {
		return err
	}
	return nil
}
