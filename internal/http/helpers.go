package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"kakeibo/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseYearMonthPath reads {year}/{month} path segments and validates
// the month range, writing a 400 itself when invalid.
func parseYearMonthPath(w http.ResponseWriter, r *http.Request) (core.YearMonth, bool) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid year")
		return core.YearMonth{}, false
	}
	month, err := strconv.Atoi(r.PathValue("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month")
		return core.YearMonth{}, false
	}

	ym := core.YearMonth{Year: year, Month: month}
	if err := ym.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return core.YearMonth{}, false
	}
	return ym, true
}

// parsePathID reads the {id} path segment, writing a 400 itself when
// it is not a positive integer.
func parsePathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid receipt id")
		return 0, false
	}
	return id, true
}

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}
