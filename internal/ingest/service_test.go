package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"kakeibo/internal/core"
	"kakeibo/internal/imagehash"
	"kakeibo/internal/log"
	"kakeibo/internal/storage"
)

// fakeExtractor returns a canned response per image hash, so tests can
// script the model without network access.
type fakeExtractor struct {
	responses map[string]string
	err       error
	calls     int
}

func (f *fakeExtractor) ExtractCSV(_ context.Context, imageBytes []byte, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if resp, ok := f.responses[imagehash.Sum(imageBytes)]; ok {
		return resp, nil
	}
	return "IS_RECEIPT: false", nil
}

func newTestService(t *testing.T, extractor *fakeExtractor) (*Service, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "kakeibo.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewService(repo, extractor, log.New(log.DefaultConfig())), repo
}

func writePhoto(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write photo %s: %v", name, err)
	}
	return path
}

func TestIngestFileStoresReceipt(t *testing.T) {
	photo := []byte("super-a-receipt")
	extractor := &fakeExtractor{responses: map[string]string{
		imagehash.Sum(photo): "IS_RECEIPT: true\nstore_name,total_amount,receipt_date\nスーパーA,2480,2025-05-06",
	}}
	svc, repo := newTestService(t, extractor)
	path := writePhoto(t, t.TempDir(), "receipt.jpg", photo)

	res := svc.IngestFile(context.Background(), path)
	if res.Status != StatusStored {
		t.Fatalf("status = %s (err %v), want stored", res.Status, res.Err)
	}
	if res.RowCount != 1 {
		t.Errorf("row count = %d, want 1", res.RowCount)
	}

	rec, err := repo.GetByHash(context.Background(), res.ImageHash)
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if rec.StoreName != "スーパーA" || rec.TotalAmount != 2480 || rec.ReceiptDate != "2025-05-06" {
		t.Errorf("stored receipt = %+v", rec)
	}
}

func TestIngestFileDuplicateSkipsExtraction(t *testing.T) {
	photo := []byte("same-photo")
	extractor := &fakeExtractor{responses: map[string]string{
		imagehash.Sum(photo): "store_name,total_amount\nスーパーA,2480",
	}}
	svc, _ := newTestService(t, extractor)
	dir := t.TempDir()
	path := writePhoto(t, dir, "receipt.jpg", photo)

	if res := svc.IngestFile(context.Background(), path); res.Status != StatusStored {
		t.Fatalf("first ingest status = %s (err %v)", res.Status, res.Err)
	}

	// Same bytes under a different name: must dedup without calling the
	// model again.
	callsBefore := extractor.calls
	copyPath := writePhoto(t, dir, "copy.jpg", photo)
	res := svc.IngestFile(context.Background(), copyPath)
	if res.Status != StatusDuplicate {
		t.Fatalf("duplicate ingest status = %s, want duplicate", res.Status)
	}
	if extractor.calls != callsBefore {
		t.Error("duplicate ingest must not call the extractor")
	}
}

func TestIngestFileNotAReceipt(t *testing.T) {
	svc, repo := newTestService(t, &fakeExtractor{})
	path := writePhoto(t, t.TempDir(), "cat.jpg", []byte("cat-photo"))

	res := svc.IngestFile(context.Background(), path)
	if res.Status != StatusNotReceipt {
		t.Fatalf("status = %s, want not_receipt", res.Status)
	}

	if _, err := repo.GetByHash(context.Background(), res.ImageHash); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("non-receipt must not be persisted, got %v", err)
	}
}

func TestIngestFileExtractorFailure(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{err: errors.New("quota exceeded")})
	path := writePhoto(t, t.TempDir(), "receipt.jpg", []byte("photo"))

	res := svc.IngestFile(context.Background(), path)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.Err == nil {
		t.Error("failed result must carry the error")
	}
}

func TestIngestFileMalformedHeaderFails(t *testing.T) {
	photo := []byte("bad-header")
	extractor := &fakeExtractor{responses: map[string]string{
		imagehash.Sum(photo): "item,price\nmilk,200",
	}}
	svc, repo := newTestService(t, extractor)
	path := writePhoto(t, t.TempDir(), "receipt.jpg", photo)

	res := svc.IngestFile(context.Background(), path)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}

	if _, err := repo.GetByHash(context.Background(), res.ImageHash); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("malformed extraction must leave the store untouched, got %v", err)
	}
}

func TestIngestPath(t *testing.T) {
	good := []byte("good-receipt")
	extractor := &fakeExtractor{responses: map[string]string{
		imagehash.Sum(good): "store_name,total_amount\n薬局C,990",
	}}
	svc, _ := newTestService(t, extractor)

	dir := t.TempDir()
	photoPath := writePhoto(t, dir, "receipt.jpg", good)
	writePhoto(t, dir, "cat.png", []byte("cat-photo"))

	supported := func(path string) bool { return filepath.Ext(path) != ".txt" }

	t.Run("directory argument walks the tree", func(t *testing.T) {
		summary, err := svc.IngestPath(context.Background(), dir, supported)
		if err != nil {
			t.Fatalf("IngestPath: %v", err)
		}
		if summary.Processed != 2 || summary.Stored != 1 || summary.NotReceipts != 1 {
			t.Errorf("summary = %+v", summary)
		}
	})

	t.Run("file argument ingests one photo", func(t *testing.T) {
		summary, err := svc.IngestPath(context.Background(), photoPath, supported)
		if err != nil {
			t.Fatalf("IngestPath: %v", err)
		}
		if summary.Processed != 1 || summary.Duplicates != 1 {
			t.Errorf("summary = %+v, want one duplicate (already stored)", summary)
		}
	})

	t.Run("missing path errors", func(t *testing.T) {
		if _, err := svc.IngestPath(context.Background(), filepath.Join(dir, "nope"), supported); err == nil {
			t.Error("IngestPath on a missing path should return an error")
		}
	})
}

func TestIngestDirSummary(t *testing.T) {
	good := []byte("good-receipt")
	cat := []byte("cat-photo")
	extractor := &fakeExtractor{responses: map[string]string{
		imagehash.Sum(good): "store_name,total_amount\n薬局C,990",
	}}
	svc, _ := newTestService(t, extractor)

	dir := t.TempDir()
	writePhoto(t, dir, "a_receipt.jpg", good)
	writePhoto(t, dir, "b_cat.png", cat)
	writePhoto(t, dir, "c_copy.jpeg", good) // duplicate of a_receipt.jpg
	writePhoto(t, dir, "notes.txt", []byte("not a photo"))

	supported := func(path string) bool {
		switch filepath.Ext(path) {
		case ".jpg", ".jpeg", ".png":
			return true
		}
		return false
	}

	summary, err := svc.IngestDir(context.Background(), dir, supported)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}

	if summary.Processed != 3 {
		t.Errorf("processed = %d, want 3 (txt excluded)", summary.Processed)
	}
	if summary.Stored != 1 || summary.Duplicates != 1 || summary.NotReceipts != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
}
