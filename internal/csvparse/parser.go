// Package csvparse decodes the text returned by the vision extraction
// model into validated receipt rows. The model is instructed to answer
// with a classification marker followed by a small CSV body, but in
// practice the payload arrives wrapped in markdown fences, sprinkled
// with currency symbols, or with the odd garbage line. The parser is
// strict about the header contract and lenient about individual rows.
package csvparse

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"kakeibo/internal/core"
)

// Header is the exact column contract the extraction prompt asks for.
// Matching is case-sensitive, no fuzzy recovery: a model that drifts
// from the contract must fail loudly before anything reaches the store.
const (
	Header         = "store_name,total_amount"
	HeaderWithDate = "store_name,total_amount,receipt_date"

	markerPrefix = "IS_RECEIPT:"
)

var (
	// ErrNotAReceipt signals the model classified the image as not a
	// receipt. The caller must abort ingestion without touching the store.
	ErrNotAReceipt = errors.New("image is not a receipt")

	// ErrMalformedHeader rejects the whole batch before any row is decoded.
	ErrMalformedHeader = errors.New("malformed CSV header")
)

// Parse validates and decodes the raw extraction text into ordered rows.
// Malformed data lines are skipped with a warning; a malformed header is
// fatal for the whole batch. Zero data lines after a valid header is a
// valid empty result.
func Parse(raw string) ([]core.Row, error) {
	body, err := stripMarker(raw)
	if err != nil {
		return nil, err
	}
	body = stripFences(body)

	lines := strings.Split(strings.TrimSpace(body), "\n")

	headerIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedHeader)
	}

	header := strings.TrimSpace(lines[headerIdx])
	if header != Header && header != HeaderWithDate {
		return nil, fmt.Errorf("%w: got %q, expected %q", ErrMalformedHeader, header, Header)
	}

	var rows []core.Row
	for i, line := range lines[headerIdx+1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		row, ok := parseLine(line)
		if !ok {
			slog.Warn("Skipping malformed CSV line",
				"line_number", headerIdx+i+2,
				"line", line)
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// stripMarker removes a leading IS_RECEIPT classification line when
// present. IS_RECEIPT: false aborts the parse.
func stripMarker(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, markerPrefix) {
		return raw, nil
	}

	rest := ""
	line := trimmed
	if idx := strings.Index(trimmed, "\n"); idx != -1 {
		line, rest = trimmed[:idx], trimmed[idx+1:]
	}

	value := strings.TrimSpace(strings.TrimPrefix(line, markerPrefix))
	if strings.EqualFold(value, "false") {
		return "", ErrNotAReceipt
	}
	return rest, nil
}

// stripFences unwraps a markdown code block (``` or ```csv) when the
// model ignored the no-markdown instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	if idx := strings.Index(s, "\n"); idx != -1 {
		s = s[idx+1:]
	} else {
		return s
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func parseLine(line string) (core.Row, bool) {
	parts := strings.Split(line, ",")

	// Thousands separators split the amount field apart; re-join digit
	// fragments so "スーパーA,2,480" still parses as 2480.
	parts = rejoinThousands(parts)

	if len(parts) < 2 {
		return core.Row{}, false
	}

	store := unquote(parts[0])
	amount, err := parseAmount(parts[1])
	if err != nil {
		return core.Row{}, false
	}

	date := ""
	if len(parts) > 2 {
		date = unquote(parts[2])
		if date != "" && core.ValidateDate(date) != nil {
			slog.Warn("Dropping unparseable receipt date", "date", date)
			date = ""
		}
	}

	row := core.Row{StoreName: store, TotalAmount: amount, ReceiptDate: date}
	if err := row.Validate(); err != nil {
		return core.Row{}, false
	}
	return row, true
}

// rejoinThousands merges a field followed by exactly-three-digit
// fragments back into one amount field ("2","480" -> "2480").
func rejoinThousands(parts []string) []string {
	if len(parts) < 3 {
		return parts
	}
	out := []string{parts[0]}
	for _, p := range parts[1:] {
		t := strings.TrimSpace(p)
		last := strings.TrimSpace(out[len(out)-1])
		if len(t) == 3 && isDigits(t) && len(last) > 0 && isDigits(stripCurrency(last)) {
			out[len(out)-1] = last + t
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseAmount(field string) (int64, error) {
	s := stripCurrency(unquote(field))
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(s, 10, 64)
}

// stripCurrency removes currency symbols and thousands separators that
// models habitually include despite the prompt.
func stripCurrency(s string) string {
	replacer := strings.NewReplacer(
		"¥", "", "￥", "", "$", "", "€", "", "円", "",
		",", "", "，", "", " ", "", " ", "",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
