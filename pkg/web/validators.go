package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ParseTimeParam reads an optional RFC 3339 query parameter.
// A missing parameter yields nil; a malformed one is answered with 400 and ok=false.
func ParseTimeParam(r *http.Request, w http.ResponseWriter, logger *slog.Logger, key string) (*time.Time, bool) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		RespondError(w, logger, http.StatusBadRequest, fmt.Sprintf("Invalid %s timestamp, expected RFC3339: %s", key, value))
		return nil, false
	}
	return &t, true
}
