package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/muninn/internal/memory"
	"github.com/kalambet/muninn/internal/storage"
)

// AppDeps holds dependencies for the HTTP management API.
type AppDeps struct {
	Store  *storage.Store
	Memory *memory.Store
	Token  string // optional; empty disables bearer auth
}

// NewAppHandler builds the management API router. Record writes go through
// MCP; the only mutation here is the reindex repair operation.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Get("/health", handleHealth)
	r.Get("/stats", handleStats(deps))
	r.Get("/events/recent", handleRecentEvents(deps))
	r.Get("/contacts/{email}/timeline", handleContactTimeline(deps))
	r.Post("/reindex", handleReindex(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Memory.Statistics()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "computing statistics: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleRecentEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", raw)
				return
			}
			limit = n
		}

		events, err := deps.Store.RecentEvents(limit, r.URL.Query().Get("type"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing events: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func handleContactTimeline(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", raw)
				return
			}
			limit = n
		}

		timeline, err := deps.Store.ContactTimeline(email, limit)
		if err != nil {
			var ve *storage.ValidationError
			if errors.As(err, &ve) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", ve)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "building timeline: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, timeline)
	}
}

func handleReindex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Memory.ReindexMissing(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reindexing: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
