package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

func yearMonth(year, month int) core.YearMonth {
	return core.YearMonth{Year: year, Month: month}
}

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) PublishIngest(_ context.Context, imagePath string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, imagePath)
	return nil
}

func newTestServer(t *testing.T, publisher IngestPublisher) (*Server, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "kakeibo.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	supported := func(path string) bool {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".jpeg", ".png", ".webp":
			return true
		}
		return false
	}

	s := NewServer(":0", repo, publisher, t.TempDir(), supported)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, repo
}

func doRequest(s *Server, method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestMonthDetailsEndpoint(t *testing.T) {
	s, repo := newTestServer(t, nil)
	ctx := context.Background()

	if _, err := repo.InsertManual(ctx, "スーパーA", 1050, "2025-05-06", true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(s, http.MethodGet, "/api/receipts/2025/5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["total"].(float64) != 1050 {
		t.Errorf("total = %v, want 1050", body["total"])
	}
	// Half of 1050 is 525, rounded down to the nearest 10.
	if body["billing_amount"].(float64) != 520 {
		t.Errorf("billing_amount = %v, want 520", body["billing_amount"])
	}
	if n := len(body["receipts"].([]any)); n != 1 {
		t.Errorf("receipts = %d, want 1", n)
	}
}

func TestMonthDetailsValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)

	for _, target := range []string{
		"/api/receipts/2025/13",
		"/api/receipts/2025/0",
		"/api/receipts/abc/5",
		"/api/receipts/2025/xyz",
	} {
		if rec := doRequest(s, http.MethodGet, target, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", target, rec.Code)
		}
	}
}

func TestMonthDetailsCacheInvalidation(t *testing.T) {
	s, repo := newTestServer(t, nil)
	ctx := context.Background()

	if _, err := repo.InsertManual(ctx, "A", 100, "2025-05-01", true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Prime the cache.
	if rec := doRequest(s, http.MethodGet, "/api/receipts/2025/5", nil); rec.Code != http.StatusOK {
		t.Fatalf("prime status = %d", rec.Code)
	}

	// Create through the API; the month entry must be invalidated.
	rec := doRequest(s, http.MethodPost, "/api/receipts/manual", map[string]any{
		"store_name":   "B",
		"total_amount": 200,
		"receipt_date": "2025-05-10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodGet, "/api/receipts/2025/5", nil)
	body := decodeBody(t, rec)
	if body["total"].(float64) != 300 {
		t.Errorf("total after create = %v, want 300 (stale cache?)", body["total"])
	}
}

func TestAvailableMonthsEndpoint(t *testing.T) {
	s, repo := newTestServer(t, nil)
	ctx := context.Background()

	for _, date := range []string{"2025-05-06", "2024-12-01"} {
		if _, err := repo.InsertManual(ctx, "店", 100, date, false); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := doRequest(s, http.MethodGet, "/api/available-months", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	months := body["months"].([]any)
	if len(months) != 2 {
		t.Fatalf("months = %v, want 2 entries", months)
	}
	first := months[0].(map[string]any)
	if first["year"].(float64) != 2025 || first["month"].(float64) != 5 {
		t.Errorf("first month = %v, want 2025-5", first)
	}
}

func TestCreateManualValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"empty store", map[string]any{"store_name": "", "total_amount": 100}, http.StatusUnprocessableEntity},
		{"negative amount", map[string]any{"store_name": "A", "total_amount": -5}, http.StatusUnprocessableEntity},
		{"bad date", map[string]any{"store_name": "A", "total_amount": 100, "receipt_date": "05/06/2025"}, http.StatusUnprocessableEntity},
		{"valid", map[string]any{"store_name": "A", "total_amount": 100, "receipt_date": "2025-05-06"}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := doRequest(s, http.MethodPost, "/api/receipts/manual", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestCreateManualAlwaysConfirmed(t *testing.T) {
	s, repo := newTestServer(t, nil)

	// An explicit use_image flag in the body is ignored: manual entries
	// are user-confirmed by definition.
	rec := doRequest(s, http.MethodPost, "/api/receipts/manual", map[string]any{
		"store_name":   "八百屋",
		"total_amount": 640,
		"receipt_date": "2025-07-10",
		"use_image":    false,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	details, err := repo.MonthlyDetails(context.Background(), yearMonth(2025, 7))
	if err != nil || len(details.Receipts) != 1 {
		t.Fatalf("lookup: %v (%d receipts)", err, len(details.Receipts))
	}
	if !details.Receipts[0].UseImage {
		t.Error("manual entry must be stored confirmed (use_image=true)")
	}
}

func TestUseImageEndpoint(t *testing.T) {
	s, repo := newTestServer(t, nil)
	ctx := context.Background()

	if _, err := repo.InsertManual(ctx, "A", 100, "2025-05-06", false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seeded, err := repo.MonthlyDetails(ctx, yearMonth(2025, 5))
	if err != nil || len(seeded.Receipts) != 1 {
		t.Fatalf("seed lookup: %v", err)
	}
	hash := seeded.Receipts[0].ImageHash

	rec := doRequest(s, http.MethodPut, "/api/receipts/"+hash+"/use-image", map[string]any{"use_image": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	after, err := repo.GetByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if !after.UseImage {
		t.Error("use_image not updated")
	}

	if rec := doRequest(s, http.MethodPut, "/api/receipts/nosuchhash/use-image", map[string]any{"use_image": true}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown hash status = %d, want 404", rec.Code)
	}
}

func TestUpdateEndpoint(t *testing.T) {
	s, repo := newTestServer(t, nil)
	ctx := context.Background()

	id, err := repo.InsertManual(ctx, "A", 100, "2025-05-06", false)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	t.Run("no fields", func(t *testing.T) {
		if rec := doRequest(s, http.MethodPut, fmt.Sprintf("/api/receipts/%d", id), map[string]any{}); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("partial update", func(t *testing.T) {
		rec := doRequest(s, http.MethodPut, fmt.Sprintf("/api/receipts/%d", id), map[string]any{"total_amount": 250})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		details, err := repo.MonthlyDetails(ctx, yearMonth(2025, 5))
		if err != nil {
			t.Fatalf("MonthlyDetails: %v", err)
		}
		if details.Receipts[0].TotalAmount != 250 {
			t.Errorf("amount = %d, want 250", details.Receipts[0].TotalAmount)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if rec := doRequest(s, http.MethodPut, "/api/receipts/424242", map[string]any{"total_amount": 1}); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestDeleteEndpoints(t *testing.T) {
	s, repo := newTestServer(t, nil)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := repo.InsertManual(ctx, fmt.Sprintf("店%d", i), 100, "2025-05-06", false)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids = append(ids, id)
	}

	t.Run("single delete", func(t *testing.T) {
		if rec := doRequest(s, http.MethodDelete, fmt.Sprintf("/api/receipts/%d", ids[0]), nil); rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if rec := doRequest(s, http.MethodDelete, fmt.Sprintf("/api/receipts/%d", ids[0]), nil); rec.Code != http.StatusNotFound {
			t.Errorf("repeat delete status = %d, want 404", rec.Code)
		}
	})

	t.Run("bulk delete counts valid only", func(t *testing.T) {
		rec := doRequest(s, http.MethodDelete, "/api/receipts", map[string]any{"ids": []int64{ids[1], 424242, ids[2]}})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if body := decodeBody(t, rec); body["deleted"].(float64) != 2 {
			t.Errorf("deleted = %v, want 2", body["deleted"])
		}
	})

	t.Run("bulk delete empty ids", func(t *testing.T) {
		if rec := doRequest(s, http.MethodDelete, "/api/receipts", map[string]any{"ids": []int64{}}); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func uploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadEndpoint(t *testing.T) {
	publisher := &fakePublisher{}
	s, _ := newTestServer(t, publisher)

	t.Run("accepted and queued", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler.ServeHTTP(rec, uploadRequest(t, "/api/receipts/upload", "receipt.jpg", []byte("photo-bytes")))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if len(publisher.published) != 1 {
			t.Fatalf("published = %v, want one message", publisher.published)
		}
		if _, err := os.Stat(publisher.published[0]); err != nil {
			t.Errorf("uploaded file missing: %v", err)
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler.ServeHTTP(rec, uploadRequest(t, "/api/receipts/upload", "receipt.pdf", []byte("x")))
		if rec.Code != http.StatusUnsupportedMediaType {
			t.Errorf("status = %d, want 415", rec.Code)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if rec := doRequest(s, http.MethodPost, "/api/receipts/upload", map[string]any{}); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestUploadWithoutPublisher(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, uploadRequest(t, "/api/receipts/upload", "receipt.jpg", []byte("x")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)

	for _, target := range []string{"/healthz", "/readyz"} {
		if rec := doRequest(s, http.MethodGet, target, nil); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", target, rec.Code)
		}
	}
}
