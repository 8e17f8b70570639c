package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"poolview/internal/coordinator"
	"poolview/internal/events"
	"poolview/internal/indygo"
	"poolview/internal/storage"
)

// PoolHandler serves pool state and the filtration command
type PoolHandler struct {
	coord      *coordinator.Coordinator
	store      storage.Storage
	eventStore *events.Store
}

// NewPoolHandler creates new pool handler
func NewPoolHandler(coord *coordinator.Coordinator, store storage.Storage, eventStore *events.Store) *PoolHandler {
	return &PoolHandler{
		coord:      coord,
		store:      store,
		eventStore: eventStore,
	}
}

// Health handles GET /api/health
func (h *PoolHandler) Health(w http.ResponseWriter, r *http.Request) {
	snap, refreshedAt, lastErr := h.coord.Snapshot()

	status := "ok"
	code := http.StatusOK
	if snap == nil {
		status = "starting"
		code = http.StatusServiceUnavailable
	} else if lastErr != nil {
		status = "degraded"
	}

	resp := map[string]interface{}{
		"status": status,
	}
	if !refreshedAt.IsZero() {
		resp["refreshedAt"] = refreshedAt.UTC().Format(time.RFC3339)
	}
	if lastErr != nil {
		resp["error"] = lastErr.Error()
	}
	writeJSON(w, code, resp)
}

// Snapshot handles GET /api/pool
func (h *PoolHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, refreshedAt, lastErr := h.coord.Snapshot()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "No data from portal yet"})
		return
	}

	resp := map[string]interface{}{
		"pool":        snap,
		"refreshedAt": refreshedAt.UTC().Format(time.RFC3339),
	}
	if lastErr != nil {
		resp["staleError"] = lastErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sensors handles GET /api/pool/sensors
// Returns root and module sensors flattened into one map
func (h *PoolHandler) Sensors(w http.ResponseWriter, r *http.Request) {
	snap, _, _ := h.coord.Snapshot()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "No data from portal yet"})
		return
	}

	sensors := make(map[string]indygo.SensorReading, len(snap.Sensors))
	for key, reading := range snap.Sensors {
		sensors[key] = reading
	}
	for moduleID, module := range snap.Modules {
		for key, reading := range module.Sensors {
			sensors[moduleID+"_"+key] = reading
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sensors": sensors})
}

// Modules handles GET /api/pool/modules
func (h *PoolHandler) Modules(w http.ResponseWriter, r *http.Request) {
	snap, _, _ := h.coord.Snapshot()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "No data from portal yet"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"modules": snap.Modules})
}

// History handles GET /api/pool/history?limit=50
func (h *PoolHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 50 // default
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	records, err := h.store.RecentSnapshots(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read history"})
		return
	}

	type historyEntry struct {
		Timestamp time.Time       `json:"timestamp"`
		Snapshot  json.RawMessage `json:"snapshot"`
	}
	entries := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, historyEntry{Timestamp: rec.Timestamp, Snapshot: rec.Snapshot})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// Refresh handles POST /api/pool/refresh
func (h *PoolHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Refresh(r.Context()); err != nil {
		writePortalError(w, err)
		return
	}

	snap, refreshedAt, _ := h.coord.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pool":        snap,
		"refreshedAt": refreshedAt.UTC().Format(time.RFC3339),
	})
}

// FiltrationRequest represents the filtration command body
type FiltrationRequest struct {
	Mode int `json:"mode"`
}

// SetFiltration handles POST /api/pool/modules/{id}/filtration
func (h *PoolHandler) SetFiltration(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "id")

	var req FiltrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if err := h.coord.SetFiltrationMode(r.Context(), moduleID, req.Mode); err != nil {
		writePortalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"module":  moduleID,
		"mode":    req.Mode,
	})
}

// writePortalError maps portal error kinds to HTTP status codes
func writePortalError(w http.ResponseWriter, err error) {
	var validationErr *indygo.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationErr.Error()})
		return
	}

	var authErr *indygo.AuthenticationError
	if errors.As(err, &authErr) {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": authErr.Error()})
		return
	}

	var discoveryErr *indygo.DiscoveryError
	if errors.As(err, &discoveryErr) {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": discoveryErr.Error()})
		return
	}

	writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}
