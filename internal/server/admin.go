package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	staycache "github.com/harborview/staycache/internal"
)

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on
// error. Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxActionBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details (e.g. SQLite
// errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch {
	case errors.Is(err, staycache.ErrNotFound):
		writeJSON(w, status, errorResponse("not found"))
	case errors.Is(err, staycache.ErrConflict):
		writeJSON(w, status, errorResponse("conflict"))
	case errors.Is(err, staycache.ErrBadRequest):
		writeJSON(w, status, errorResponse(err.Error()))
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse("internal error"))
	}
}

// --- Cache ---

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	overview, err := s.deps.Gateway.Statistics(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *server) handleCacheSummary(w http.ResponseWriter, r *http.Request) {
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	month, _ := strconv.Atoi(r.URL.Query().Get("month"))
	summary, err := s.deps.Gateway.SummaryByDate(r.Context(), year, month)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if summary == nil {
		summary = []staycache.DateSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": summary})
}

func (s *server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Gateway.ClearAll(r.Context()); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *server) handleCacheDeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid booking id"))
		return
	}
	if err := s.deps.Gateway.ClearBooking(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Sync ---

// handleSyncTrigger starts a sync job by hand. Incremental and cleanup run
// inline; a full refresh can take minutes, so it runs detached and the
// response only acknowledges the start.
func (s *server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	switch job {
	case staycache.CheckpointIncremental:
		if err := s.deps.Engine.IncrementalSync(r.Context()); err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "job": job})

	case staycache.CheckpointCleanup:
		if err := s.deps.Engine.Cleanup(r.Context()); err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "job": job})

	case staycache.CheckpointFullRefresh:
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if err := s.deps.Engine.FullRefresh(ctx); err != nil && !errors.Is(err, staycache.ErrConflict) {
				slog.LogAttrs(ctx, slog.LevelError, "manual full refresh failed",
					slog.String("error", err.Error()),
				)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "job": job})

	default:
		writeJSON(w, http.StatusBadRequest, errorResponse("unknown sync job"))
	}
}

// --- API keys ---

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	plaintext, key, err := s.deps.Keys.CreateKey(r.Context(), req.Label)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	// The plaintext is shown exactly once; only the hash is stored.
	writeJSON(w, http.StatusCreated, map[string]any{"key": plaintext, "data": key})
}

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	keys, err := s.deps.Keys.ListKeys(r.Context(), activeOnly)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*staycache.APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": keys})
}

func (s *server) handleKeyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Keys.Stats(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Keys.RevokeKey(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.Invalidator != nil {
		s.deps.Invalidator.InvalidateByKeyID(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Keys.DeleteKey(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.Invalidator != nil {
		s.deps.Invalidator.InvalidateByKeyID(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Audit ---

func (s *server) handleListUncached(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reqs, err := s.deps.Store.ListUncachedRequests(r.Context(), limit)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []*staycache.UncachedRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": reqs})
}

// --- Logs ---

func (s *server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	level := staycache.LogDebug
	if raw := r.URL.Query().Get("level"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < staycache.LogOff || parsed > staycache.LogDebug {
			writeJSON(w, http.StatusBadRequest, errorResponse("level must be 0-3"))
			return
		}
		level = parsed
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := s.deps.Store.ListLogEntries(r.Context(), level, limit, offset)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*staycache.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (s *server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.ClearLogs(r.Context()); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// --- Settings ---

func (s *server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.deps.Settings.Snapshot(r.Context())})
}

func (s *server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	key := chi.URLParam(r, "key")
	if err := s.deps.Settings.Set(r.Context(), key, req.Value); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- Upstream ---

func (s *server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Gateway.TestConnection(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
		if res.HTTPStatus > 0 {
			status = res.HTTPStatus
		}
	}
	writeJSON(w, status, res)
}
