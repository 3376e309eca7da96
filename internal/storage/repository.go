package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kakeibo/internal/core"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteRepository owns the receipts schema and is the only component
// that talks to the database. The UNIQUE constraint on image_hash is
// the real dedup guarantee; Exists is only an optimization that lets
// callers skip an extraction API call.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Exists reports whether a receipt with the given image hash is already
// stored. Read-only dedup pre-check.
func (r *SQLiteRepository) Exists(ctx context.Context, imageHash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM receipts WHERE image_hash = ?`, imageHash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check image hash: %w", err)
	}
	return true, nil
}

// InsertBatch persists all validated rows for one image hash as a single
// transaction. It returns false without writing when the hash is already
// stored, either via the pre-check or via the UNIQUE constraint firing
// mid-transaction (a benign race, not an error). Any other row failure
// rolls the whole batch back.
func (r *SQLiteRepository) InsertBatch(ctx context.Context, imageHash string, rows []core.Row) (bool, error) {
	exists, err := r.Exists(ctx, imageHash)
	if err != nil {
		return false, err
	}
	if exists {
		slog.InfoContext(ctx, "Receipt already stored, skipping",
			"image_hash", imageHash)
		return false, nil
	}

	if len(rows) == 0 {
		// Valid empty batch: nothing to persist, nothing to roll back.
		return true, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO receipts (image_hash, store_name, total_amount, receipt_date, use_image)
		VALUES (?, ?, ?, ?, 0)`)
	if err != nil {
		return false, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, imageHash, row.StoreName, row.TotalAmount, nullableDate(row.ReceiptDate)); err != nil {
			if isUniqueViolation(err) {
				if i > 0 {
					// Every row of a batch shares the image hash, so a
					// second row collides with the first one inserted in
					// this same transaction. That is a batch the schema
					// cannot hold, not a concurrent duplicate.
					return false, fmt.Errorf("insert receipt row: %d rows for one image hash: %w", len(rows), err)
				}
				// Lost the race against a concurrent ingester; the
				// receipt is in the store either way.
				slog.WarnContext(ctx, "Duplicate image hash hit the constraint, treating as already stored",
					"image_hash", imageHash)
				return false, nil
			}
			return false, fmt.Errorf("insert receipt row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit batch: %w", err)
	}

	slog.InfoContext(ctx, "Receipt batch saved",
		"image_hash", imageHash,
		"row_count", len(rows))
	return true, nil
}

// InsertManual stores a single manually entered receipt, bypassing the
// CSV path. The synthesized hash keeps the dedup invariant intact.
func (r *SQLiteRepository) InsertManual(ctx context.Context, store string, amount int64, date string, useImage bool) (int64, error) {
	row := core.Row{StoreName: store, TotalAmount: amount, ReceiptDate: date}
	if err := row.Validate(); err != nil {
		return 0, err
	}

	hash := core.ManualHash(store, date, amount, time.Now())
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO receipts (image_hash, store_name, total_amount, receipt_date, use_image)
		VALUES (?, ?, ?, ?, ?)`,
		hash, store, amount, nullableDate(date), boolToInt(useImage))
	if err != nil {
		return 0, fmt.Errorf("insert manual receipt: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("manual receipt id: %w", err)
	}

	slog.InfoContext(ctx, "Manual receipt saved",
		"receipt_id", id,
		"store_name", store,
		"total_amount", amount)
	return id, nil
}

// GetByHash returns the stored receipt for an image hash, or
// core.ErrNotFound.
func (r *SQLiteRepository) GetByHash(ctx context.Context, imageHash string) (core.Receipt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, image_hash, store_name, total_amount, receipt_date, created_at, use_image
		FROM receipts WHERE image_hash = ?`, imageHash)

	rec, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Receipt{}, core.ErrNotFound
	}
	if err != nil {
		return core.Receipt{}, fmt.Errorf("get receipt by hash: %w", err)
	}
	return rec, nil
}

// UpdateUseImage flips the confirmation flag for one receipt addressed
// by its image hash.
func (r *SQLiteRepository) UpdateUseImage(ctx context.Context, imageHash string, useImage bool) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE receipts SET use_image = ? WHERE image_hash = ?`,
		boolToInt(useImage), imageHash)
	if err != nil {
		return false, fmt.Errorf("update use_image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update use_image rows affected: %w", err)
	}
	return n > 0, nil
}

// Update applies a dynamic column subset to one receipt. Updating zero
// fields is a no-op returning false.
func (r *SQLiteRepository) Update(ctx context.Context, id int64, upd core.ReceiptUpdate) (bool, error) {
	var (
		fields []string
		args   []any
	)

	if upd.StoreName != nil {
		fields = append(fields, "store_name = ?")
		args = append(args, *upd.StoreName)
	}
	if upd.TotalAmount != nil {
		fields = append(fields, "total_amount = ?")
		args = append(args, *upd.TotalAmount)
	}
	if upd.ReceiptDate != nil {
		if *upd.ReceiptDate != "" {
			if err := core.ValidateDate(*upd.ReceiptDate); err != nil {
				return false, err
			}
		}
		fields = append(fields, "receipt_date = ?")
		args = append(args, nullableDate(*upd.ReceiptDate))
	}
	if upd.UseImage != nil {
		fields = append(fields, "use_image = ?")
		args = append(args, boolToInt(*upd.UseImage))
	}

	if len(fields) == 0 {
		return false, nil
	}

	args = append(args, id)
	query := "UPDATE receipts SET " + strings.Join(fields, ", ") + " WHERE id = ?"

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes one receipt. Returns false when the id does not exist.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM receipts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteMany removes the given ids in one transaction and returns the
// count actually removed. Unknown ids are simply not counted.
func (r *SQLiteRepository) DeleteMany(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM receipts WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete receipts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk delete rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk delete: %w", err)
	}

	slog.InfoContext(ctx, "Receipts deleted", "requested", len(ids), "deleted", n)
	return n, nil
}

// MonthlyTotal sums total_amount over the month's half-open date range.
func (r *SQLiteRepository) MonthlyTotal(ctx context.Context, ym core.YearMonth) (int64, error) {
	if err := ym.Validate(); err != nil {
		return 0, err
	}

	start, end := ym.Bounds()
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(total_amount) FROM receipts
		WHERE receipt_date >= ? AND receipt_date < ?`, start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("monthly total: %w", err)
	}
	return total.Int64, nil
}

// MonthlyDetails holds one month's receipts together with their sum.
type MonthlyDetails struct {
	Receipts []core.Receipt `json:"receipts"`
	Total    int64          `json:"total"`
}

// MonthlyDetails lists the month's receipts ordered by
// COALESCE(receipt_date, created_at) then id, with the running total.
func (r *SQLiteRepository) MonthlyDetails(ctx context.Context, ym core.YearMonth) (MonthlyDetails, error) {
	if err := ym.Validate(); err != nil {
		return MonthlyDetails{}, err
	}

	start, end := ym.Bounds()
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, image_hash, store_name, total_amount, receipt_date, created_at, use_image
		FROM receipts
		WHERE receipt_date >= ? AND receipt_date < ?
		ORDER BY COALESCE(receipt_date, created_at) ASC, id ASC`, start, end)
	if err != nil {
		return MonthlyDetails{}, fmt.Errorf("monthly details: %w", err)
	}
	defer rows.Close()

	details := MonthlyDetails{Receipts: []core.Receipt{}}
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return MonthlyDetails{}, fmt.Errorf("scan monthly receipt: %w", err)
		}
		details.Receipts = append(details.Receipts, rec)
		details.Total += rec.TotalAmount
	}
	if err := rows.Err(); err != nil {
		return MonthlyDetails{}, fmt.Errorf("iterate monthly receipts: %w", err)
	}
	return details, nil
}

// AvailableMonths enumerates the distinct (year, month) pairs that have
// dated receipts, most recent first.
func (r *SQLiteRepository) AvailableMonths(ctx context.Context) ([]core.YearMonth, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT CAST(strftime('%Y', receipt_date) AS INTEGER) AS year,
		       CAST(strftime('%m', receipt_date) AS INTEGER) AS month
		FROM receipts
		WHERE receipt_date IS NOT NULL
		GROUP BY year, month
		ORDER BY year DESC, month DESC`)
	if err != nil {
		return nil, fmt.Errorf("available months: %w", err)
	}
	defer rows.Close()

	months := []core.YearMonth{}
	for rows.Next() {
		var ym core.YearMonth
		if err := rows.Scan(&ym.Year, &ym.Month); err != nil {
			return nil, fmt.Errorf("scan available month: %w", err)
		}
		months = append(months, ym)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate available months: %w", err)
	}
	return months, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(s rowScanner) (core.Receipt, error) {
	var (
		rec       core.Receipt
		date      any
		createdAt string
		useImage  int
	)
	if err := s.Scan(&rec.ID, &rec.ImageHash, &rec.StoreName, &rec.TotalAmount, &date, &createdAt, &useImage); err != nil {
		return core.Receipt{}, err
	}
	rec.ReceiptDate = isoDate(date)
	rec.UseImage = useImage != 0
	rec.CreatedAt = parseTimestamp(createdAt)
	return rec, nil
}

// isoDate normalizes what the driver hands back for the DATE column.
// The driver converts DATE-declared values to time.Time on read; the
// rest of the system speaks plain "YYYY-MM-DD" strings.
func isoDate(v any) string {
	switch d := v.(type) {
	case time.Time:
		return d.Format("2006-01-02")
	case string:
		return d
	case []byte:
		return string(d)
	}
	return ""
}

// parseTimestamp copes with the two shapes SQLite hands back for
// created_at: CURRENT_TIMESTAMP text and RFC3339 from driver-bound
// time values.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02T15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullableDate(date string) any {
	if date == "" {
		return nil
	}
	return date
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlite3.SQLITE_CONSTRAINT
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
