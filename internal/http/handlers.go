package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"kakeibo/internal/core"
)

// maxUploadBytes caps receipt photo uploads.
const maxUploadBytes = 10 << 20

type monthResponse struct {
	Year          int            `json:"year"`
	Month         int            `json:"month"`
	Receipts      []core.Receipt `json:"receipts"`
	Total         int64          `json:"total"`
	BillingAmount int64          `json:"billing_amount"`
}

func (s *Server) handleMonthDetails(w http.ResponseWriter, r *http.Request) {
	ym, ok := parseYearMonthPath(w, r)
	if !ok {
		return
	}

	key := s.cacheKey(ym.Year, ym.Month)
	details, found := s.monthCache.Get(key)
	if !found {
		var err error
		details, err = s.repo.MonthlyDetails(r.Context(), ym)
		if err != nil {
			slog.ErrorContext(r.Context(), "Month details error", "error", err, "year", ym.Year, "month", ym.Month)
			writeError(w, http.StatusInternalServerError, "failed to load month details")
			return
		}
		s.monthCache.Set(key, details)
	}

	writeJSON(w, http.StatusOK, monthResponse{
		Year:          ym.Year,
		Month:         ym.Month,
		Receipts:      details.Receipts,
		Total:         details.Total,
		BillingAmount: core.BillingAmount(details.Total),
	})
}

func (s *Server) handleAvailableMonths(w http.ResponseWriter, r *http.Request) {
	months, err := s.repo.AvailableMonths(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Available months error", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list available months")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": months})
}

type manualRequest struct {
	StoreName   string `json:"store_name"`
	TotalAmount int64  `json:"total_amount"`
	ReceiptDate string `json:"receipt_date"`
}

func (s *Server) handleCreateManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.StoreName = sanitizeInput(req.StoreName)

	// Manual entries are user-confirmed expenses by definition.
	id, err := s.repo.InsertManual(r.Context(), req.StoreName, req.TotalAmount, req.ReceiptDate, true)
	if err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Manual receipt error", "error", err, "store_name", req.StoreName)
		writeError(w, http.StatusInternalServerError, "failed to save receipt")
		return
	}

	if t, err := time.Parse("2006-01-02", req.ReceiptDate); err == nil {
		s.invalidateMonth(t.Year(), int(t.Month()))
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

type useImageRequest struct {
	UseImage bool `json:"use_image"`
}

func (s *Server) handleUseImage(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if hash == "" {
		writeError(w, http.StatusBadRequest, "missing image hash")
		return
	}

	var req useImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := s.repo.UpdateUseImage(r.Context(), hash, req.UseImage)
	if err != nil {
		slog.ErrorContext(r.Context(), "Use image update error", "error", err, "image_hash", hash)
		writeError(w, http.StatusInternalServerError, "failed to update receipt")
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}

	s.monthCache.Flush()
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}

	var upd core.ReceiptUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if upd.StoreName == nil && upd.TotalAmount == nil && upd.ReceiptDate == nil && upd.UseImage == nil {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	updated, err := s.repo.Update(r.Context(), id, upd)
	if err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Receipt update error", "error", err, "receipt_id", id)
		writeError(w, http.StatusInternalServerError, "failed to update receipt")
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}

	// Updated receipt may have moved month; drop everything.
	s.monthCache.Flush()
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}

	deleted, err := s.repo.Delete(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Receipt delete error", "error", err, "receipt_id", id)
		writeError(w, http.StatusInternalServerError, "failed to delete receipt")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}

	s.monthCache.Flush()
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type bulkDeleteRequest struct {
	IDs []int64 `json:"ids"`
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}

	deleted, err := s.repo.DeleteMany(r.Context(), req.IDs)
	if err != nil {
		slog.ErrorContext(r.Context(), "Bulk delete error", "error", err, "requested", len(req.IDs))
		writeError(w, http.StatusInternalServerError, "failed to delete receipts")
		return
	}

	s.monthCache.Flush()
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// handleUpload stores the photo under a fresh name and queues it for
// the worker. The response is 202: extraction happens asynchronously.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion queue unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing photo upload")
		return
	}
	defer file.Close()

	if s.supported != nil && !s.supported(header.Filename) {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported image type: %s", filepath.Ext(header.Filename)))
		return
	}

	if err := os.MkdirAll(s.photoDir, 0755); err != nil {
		slog.ErrorContext(r.Context(), "Photo dir error", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	destPath := filepath.Join(s.photoDir, uuid.New().String()+ext)

	dest, err := os.Create(destPath)
	if err != nil {
		slog.ErrorContext(r.Context(), "Photo create error", "error", err, "image_path", destPath)
		writeError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}
	if _, err := io.Copy(dest, file); err != nil {
		dest.Close()
		os.Remove(destPath)
		slog.ErrorContext(r.Context(), "Photo write error", "error", err, "image_path", destPath)
		writeError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}
	dest.Close()

	if err := s.publisher.PublishIngest(r.Context(), destPath); err != nil {
		os.Remove(destPath)
		slog.ErrorContext(r.Context(), "Ingest publish error", "error", err, "image_path", destPath)
		writeError(w, http.StatusServiceUnavailable, "failed to queue photo for ingestion")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":     true,
		"image_path": destPath,
	})
}

func isValidationError(err error) bool {
	return errors.Is(err, core.ErrEmptyStore) ||
		errors.Is(err, core.ErrInvalidAmount) ||
		errors.Is(err, core.ErrInvalidDate) ||
		errors.Is(err, core.ErrInvalidMonth)
}
