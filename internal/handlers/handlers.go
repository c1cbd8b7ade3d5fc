// Package handlers exposes the domain services as JSON over HTTP.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/clinic-invoices/internal/httpx"
)

const dateLayout = "2006-01-02"

func badRequest(w http.ResponseWriter, msg string) {
	httpx.JSONError(w, http.StatusBadRequest, msg, nil)
}

// decode parses the JSON body into dst and writes 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		badRequest(w, "invalid_json")
		return false
	}
	return true
}

func pathID(r *http.Request, key string) (uint, error) {
	n, err := strconv.ParseUint(r.PathValue(key), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(n), nil
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// parseDate accepts YYYY-MM-DD or RFC 3339. Empty input yields the zero time.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
