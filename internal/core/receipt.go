package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type (
	// Receipt is one persisted row: a single physical receipt or a
	// manual entry. Amounts are integer yen, no fractional sub-units.
	Receipt struct {
		ID          int64     `json:"id"`
		ImageHash   string    `json:"image_hash"`
		StoreName   string    `json:"store_name"`
		TotalAmount int64     `json:"total_amount"`
		ReceiptDate string    `json:"receipt_date,omitempty"` // "YYYY-MM-DD", empty when unknown
		CreatedAt   time.Time `json:"created_at"`
		// UseImage means the row has been confirmed by the user for
		// reporting, independent of whether it came from an image.
		// Manual entries are stored confirmed; extracted rows start false.
		UseImage bool `json:"use_image"`
	}

	// Row is one validated line from the extraction CSV, before it has
	// an identity in the store.
	Row struct {
		StoreName   string
		TotalAmount int64
		ReceiptDate string // optional, "YYYY-MM-DD"
	}

	// ReceiptUpdate carries an explicit subset of mutable fields.
	// Nil pointers mean "leave unchanged".
	ReceiptUpdate struct {
		StoreName   *string `json:"store_name"`
		TotalAmount *int64  `json:"total_amount"`
		ReceiptDate *string `json:"receipt_date"`
		UseImage    *bool   `json:"use_image"`
	}

	// YearMonth identifies one calendar month.
	YearMonth struct {
		Year  int `json:"year"`
		Month int `json:"month"`
	}
)

var (
	ErrInvalidMonth  = errors.New("month must be between 1 and 12")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidDate   = errors.New("invalid date, expected YYYY-MM-DD")
	ErrEmptyStore    = errors.New("empty store name")
	ErrNotFound      = errors.New("receipt not found")
)

func (ym YearMonth) Validate() error {
	if ym.Month < 1 || ym.Month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Bounds returns the half-open date interval [first day, first day of
// the next month) as ISO dates. December rolls over to January of the
// following year.
func (ym YearMonth) Bounds() (start, end string) {
	nextYear, nextMonth := ym.Year, ym.Month+1
	if ym.Month == 12 {
		nextYear, nextMonth = ym.Year+1, 1
	}
	start = fmt.Sprintf("%04d-%02d-01", ym.Year, ym.Month)
	end = fmt.Sprintf("%04d-%02d-01", nextYear, nextMonth)
	return start, end
}

func (r Row) Validate() error {
	if strings.TrimSpace(r.StoreName) == "" {
		return ErrEmptyStore
	}
	if r.TotalAmount <= 0 {
		return ErrInvalidAmount
	}
	if r.ReceiptDate != "" {
		if err := ValidateDate(r.ReceiptDate); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDate checks the ISO calendar-date format used throughout the
// store ("2006-01-02").
func ValidateDate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return ErrInvalidDate
	}
	return nil
}

// BillingAmount derives the amount billed to the other household member
// from a monthly total: half the total, floored to a whole yen, then
// floored again to the nearest multiple of ten. The two-step rounding
// is deliberate and must not be collapsed into a single rounding.
func BillingAmount(total int64) int64 {
	half := total / 2
	return half / 10 * 10
}

// ManualHash synthesizes the unique image_hash stand-in for a manual
// entry. Uniqueness comes from the millisecond timestamp suffix.
func ManualHash(store, date string, amount int64, now time.Time) string {
	return fmt.Sprintf("manual_%s_%s_%d_%d", store, date, amount, now.UnixMilli())
}
