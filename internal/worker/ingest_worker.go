package worker

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"

	"kakeibo/internal/amqp"
	"kakeibo/internal/ingest"
)

// IngestWorker feeds queued photos through the ingestion pipeline.
type IngestWorker struct {
	service   *ingest.Service
	photoDir  string
	supported func(string) bool
}

func NewIngestWorker(service *ingest.Service, photoDir string, supported func(string) bool) *IngestWorker {
	return &IngestWorker{
		service:   service,
		photoDir:  photoDir,
		supported: supported,
	}
}

// HandleIngestMessage processes a single queued photo. A returned error
// requeues the delivery, so permanent failures are swallowed here:
// retrying a deleted file or a malformed extraction would loop forever.
func (w *IngestWorker) HandleIngestMessage(ctx context.Context, msg *amqp.IngestMessage) error {
	res := w.service.IngestFile(ctx, msg.ImagePath)
	if res.Status != ingest.StatusFailed {
		return nil
	}

	if errors.Is(res.Err, fs.ErrNotExist) {
		slog.WarnContext(ctx, "Queued photo no longer exists, dropping message",
			"image_path", msg.ImagePath)
		return nil
	}
	return res.Err
}

// SweepPhotoDir ingests everything in the photo directory. Run at
// startup and periodically to catch photos that never made it onto the
// queue.
func (w *IngestWorker) SweepPhotoDir(ctx context.Context) error {
	summary, err := w.service.IngestDir(ctx, w.photoDir, w.supported)
	if err != nil {
		return err
	}

	if summary.Failed > 0 {
		slog.WarnContext(ctx, "Photo sweep finished with failures",
			"processed", summary.Processed,
			"failed", summary.Failed)
	}
	return nil
}
