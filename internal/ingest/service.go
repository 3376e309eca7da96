package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"kakeibo/internal/core"
	"kakeibo/internal/csvparse"
	"kakeibo/internal/imagehash"
	"kakeibo/internal/log"
	"kakeibo/internal/vision"
)

// Repository is the slice of the storage layer the pipeline needs.
type Repository interface {
	Exists(ctx context.Context, imageHash string) (bool, error)
	InsertBatch(ctx context.Context, imageHash string, rows []core.Row) (bool, error)
}

// Status classifies the outcome of ingesting one photo.
type Status string

const (
	StatusStored     Status = "stored"
	StatusDuplicate  Status = "duplicate"
	StatusNotReceipt Status = "not_receipt"
	StatusFailed     Status = "failed"
)

// Result is the per-photo outcome. Err is set only for StatusFailed.
type Result struct {
	Path      string
	ImageHash string
	Status    Status
	RowCount  int
	Err       error
}

// Summary aggregates a directory run.
type Summary struct {
	Processed   int
	Stored      int
	Duplicates  int
	NotReceipts int
	Failed      int
	Results     []Result
}

// Add folds one photo's outcome into the summary.
func (s *Summary) Add(res Result) {
	s.Processed++
	s.Results = append(s.Results, res)
	switch res.Status {
	case StatusStored:
		s.Stored++
	case StatusDuplicate:
		s.Duplicates++
	case StatusNotReceipt:
		s.NotReceipts++
	case StatusFailed:
		s.Failed++
	}
}

// Merge folds another run's summary into this one.
func (s *Summary) Merge(other Summary) {
	s.Processed += other.Processed
	s.Stored += other.Stored
	s.Duplicates += other.Duplicates
	s.NotReceipts += other.NotReceipts
	s.Failed += other.Failed
	s.Results = append(s.Results, other.Results...)
}

// Service runs the photo-to-database pipeline: hash, dedup, extract,
// parse, persist.
type Service struct {
	repo      Repository
	extractor vision.Extractor
	logger    *log.Logger
}

func NewService(repo Repository, extractor vision.Extractor, logger *log.Logger) *Service {
	return &Service{
		repo:      repo,
		extractor: extractor,
		logger:    logger.WithComponent(log.ComponentIngest),
	}
}

// IngestFile processes a single photo. Duplicates and non-receipts are
// normal outcomes, not errors; only infrastructure failures surface in
// Result.Err.
func (s *Service) IngestFile(ctx context.Context, path string) Result {
	res := Result{Path: path}

	imageBytes, err := os.ReadFile(path)
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("read photo: %w", err))
	}

	res.ImageHash = imagehash.Sum(imageBytes)

	// Pre-check saves an extraction call; the UNIQUE constraint is the
	// actual guarantee.
	exists, err := s.repo.Exists(ctx, res.ImageHash)
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("dedup check: %w", err))
	}
	if exists {
		res.Status = StatusDuplicate
		s.logger.InfoContext(ctx, "Photo already ingested, skipping",
			log.FieldImagePath, path,
			log.FieldImageHash, res.ImageHash)
		return res
	}

	raw, err := s.extractor.ExtractCSV(ctx, imageBytes, vision.MIMEForPath(path))
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("extract receipt text: %w", err))
	}

	rows, err := csvparse.Parse(raw)
	if errors.Is(err, csvparse.ErrNotAReceipt) {
		res.Status = StatusNotReceipt
		s.logger.InfoContext(ctx, "Photo classified as not a receipt",
			log.FieldImagePath, path,
			log.FieldImageHash, res.ImageHash)
		return res
	}
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("parse extracted csv: %w", err))
	}

	inserted, err := s.repo.InsertBatch(ctx, res.ImageHash, rows)
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("persist receipt: %w", err))
	}
	if !inserted {
		res.Status = StatusDuplicate
		return res
	}

	res.Status = StatusStored
	res.RowCount = len(rows)
	s.logger.InfoContext(ctx, "Photo ingested",
		log.FieldImagePath, path,
		log.FieldImageHash, res.ImageHash,
		log.FieldRowCount, res.RowCount)
	return res
}

// IngestPath ingests a single photo, or every supported image under a
// directory.
func (s *Service) IngestPath(ctx context.Context, path string, supported func(string) bool) (Summary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Summary{}, fmt.Errorf("stat ingest path: %w", err)
	}
	if info.IsDir() {
		return s.IngestDir(ctx, path, supported)
	}

	summary := Summary{}
	summary.Add(s.IngestFile(ctx, path))
	return summary, nil
}

// IngestDir walks a photo directory and ingests every supported image,
// in filename order. One bad photo never aborts the run.
func (s *Service) IngestDir(ctx context.Context, dir string, supported func(string) bool) (Summary, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supported(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("walk photo directory: %w", err)
	}
	sort.Strings(paths)

	summary := Summary{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		summary.Add(s.IngestFile(ctx, path))
	}

	s.logger.InfoContext(ctx, "Photo directory processed",
		"dir", dir,
		"processed", summary.Processed,
		"stored", summary.Stored,
		"duplicates", summary.Duplicates,
		"not_receipts", summary.NotReceipts,
		"failed", summary.Failed)
	return summary, nil
}

func (s *Service) fail(ctx context.Context, res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = err
	s.logger.ErrorContext(ctx, "Photo ingestion failed",
		log.FieldImagePath, res.Path,
		log.FieldError, err)
	return res
}
