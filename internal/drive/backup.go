package drive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"kakeibo/internal/log"
)

const folderMIMEType = "application/vnd.google-apps.folder"

// Client backs up local files into one named Drive folder and restores
// them back.
type Client struct {
	svc        *gdrive.Service
	folderName string
	logger     *log.Logger
}

func NewClient(ctx context.Context, opt option.ClientOption, folderName string, logger *log.Logger) (*Client, error) {
	svc, err := gdrive.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Client{
		svc:        svc,
		folderName: folderName,
		logger:     logger.WithComponent(log.ComponentBackup),
	}, nil
}

// EnsureFolder finds the backup folder by name, creating it when absent,
// and returns its id.
func (c *Client) EnsureFolder(ctx context.Context) (string, error) {
	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", c.folderName, folderMIMEType)
	list, err := c.svc.Files.List().Q(query).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("find backup folder: %w", err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	folder, err := c.svc.Files.Create(&gdrive.File{
		Name:     c.folderName,
		MimeType: folderMIMEType,
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create backup folder: %w", err)
	}

	c.logger.InfoContext(ctx, "Backup folder created", "folder", c.folderName, "folder_id", folder.Id)
	return folder.Id, nil
}

// ListFiles returns the non-trashed files inside a folder.
func (c *Client) ListFiles(ctx context.Context, folderID string) ([]*gdrive.File, error) {
	var files []*gdrive.File
	pageToken := ""
	for {
		call := c.svc.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed = false", folderID)).
			Fields("nextPageToken, files(id, name, size, createdTime)").
			PageSize(1000).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list backup files: %w", err)
		}
		files = append(files, list.Files...)

		pageToken = list.NextPageToken
		if pageToken == "" {
			return files, nil
		}
	}
}

// UploadFile uploads one local file into the folder under its base name.
func (c *Client) UploadFile(ctx context.Context, path, folderID string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for upload: %w", err)
	}
	defer f.Close()

	created, err := c.svc.Files.Create(&gdrive.File{
		Name:    filepath.Base(path),
		Parents: []string{folderID},
	}).Media(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	return created.Id, nil
}

// DownloadFile streams one Drive file into destPath.
func (c *Client) DownloadFile(ctx context.Context, fileID, destPath string) error {
	resp, err := c.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, resp.Body); err != nil {
		return fmt.Errorf("write local file: %w", err)
	}
	return nil
}

// Summary counts one backup or restore run.
type Summary struct {
	Uploaded int64
	Skipped  int64
	Failed   int64
}

// BackupDir uploads every file in dir that passes the filter, skipping
// names already present in the backup folder. Uploads run concurrently,
// bounded by concurrency; one failed upload does not stop the rest.
func (c *Client) BackupDir(ctx context.Context, dir string, include func(string) bool, concurrency int) (Summary, error) {
	folderID, err := c.EnsureFolder(ctx)
	if err != nil {
		return Summary{}, err
	}

	existing, err := c.ListFiles(ctx, folderID)
	if err != nil {
		return Summary{}, err
	}
	uploaded := make(map[string]bool, len(existing))
	for _, f := range existing {
		uploaded[f.Name] = true
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (include != nil && !include(path)) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("walk backup directory: %w", err)
	}

	var summary Summary
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, path := range paths {
		if uploaded[filepath.Base(path)] {
			atomic.AddInt64(&summary.Skipped, 1)
			continue
		}

		g.Go(func() error {
			if _, err := c.UploadFile(gctx, path, folderID); err != nil {
				atomic.AddInt64(&summary.Failed, 1)
				c.logger.ErrorContext(gctx, "Backup upload failed",
					log.FieldImagePath, path,
					log.FieldError, err)
				return nil
			}
			atomic.AddInt64(&summary.Uploaded, 1)
			c.logger.InfoContext(gctx, "File backed up", log.FieldImagePath, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	c.logger.InfoContext(ctx, "Backup completed",
		"dir", dir,
		"uploaded", summary.Uploaded,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
	return summary, nil
}

// RestoreDir downloads every file from the backup folder into destDir,
// skipping names that already exist locally.
func (c *Client) RestoreDir(ctx context.Context, destDir string, concurrency int) (Summary, error) {
	folderID, err := c.EnsureFolder(ctx)
	if err != nil {
		return Summary{}, err
	}

	files, err := c.ListFiles(ctx, folderID)
	if err != nil {
		return Summary{}, err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return Summary{}, fmt.Errorf("create restore directory: %w", err)
	}

	var summary Summary
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, f := range files {
		destPath := filepath.Join(destDir, f.Name)
		if _, err := os.Stat(destPath); err == nil {
			atomic.AddInt64(&summary.Skipped, 1)
			continue
		}

		g.Go(func() error {
			if err := c.DownloadFile(gctx, f.Id, destPath); err != nil {
				atomic.AddInt64(&summary.Failed, 1)
				c.logger.ErrorContext(gctx, "Restore download failed",
					"name", f.Name,
					log.FieldError, err)
				return nil
			}
			atomic.AddInt64(&summary.Uploaded, 1)
			c.logger.InfoContext(gctx, "File restored", "name", f.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	c.logger.InfoContext(ctx, "Restore completed",
		"dir", destDir,
		"downloaded", summary.Uploaded,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
	return summary, nil
}
