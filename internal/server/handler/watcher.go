package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// WatcherHandler controls the stream watcher and its save filter.
type WatcherHandler struct {
	watcher WatcherControl
	logger  *slog.Logger
}

// NewWatcherHandler creates a WatcherHandler.
func NewWatcherHandler(watcher WatcherControl, logger *slog.Logger) *WatcherHandler {
	return &WatcherHandler{
		watcher: watcher,
		logger:  logger.With(slog.String("handler", "watcher")),
	}
}

// GetFilter returns the current save filter.
// GET /api/filter
func (h *WatcherHandler) GetFilter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.watcher.GetFilter())
}

// UpdateFilter replaces the save filter. The new filter applies to the next
// trade; in-flight evaluations finish under the old one.
// PUT /api/filter
func (h *WatcherHandler) UpdateFilter(w http.ResponseWriter, r *http.Request) {
	var filter domain.EventFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter body")
		return
	}
	if filter.MinPrice < 0 || filter.MaxPrice < 0 || (filter.MaxPrice > 0 && filter.MinPrice > filter.MaxPrice) {
		writeError(w, http.StatusBadRequest, "invalid price bounds")
		return
	}

	h.watcher.SetFilter(filter)
	h.logger.InfoContext(r.Context(), "save filter updated",
		slog.Bool("fresh_only", filter.FreshWalletsOnly),
		slog.Float64("min_size", filter.MinSize),
	)
	writeJSON(w, http.StatusOK, filter)
}

// StartWatcher starts the stream watcher. Starting a running watcher is a
// no-op.
// POST /api/watcher/start
func (h *WatcherHandler) StartWatcher(w http.ResponseWriter, r *http.Request) {
	if err := h.watcher.Start(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "start watcher", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start watcher")
		return
	}
	writeJSON(w, http.StatusOK, h.watcher.Status())
}

// StopWatcher stops the stream watcher. Stopping a stopped watcher is a
// no-op.
// POST /api/watcher/stop
func (h *WatcherHandler) StopWatcher(w http.ResponseWriter, r *http.Request) {
	if err := h.watcher.Stop(); err != nil {
		h.logger.ErrorContext(r.Context(), "stop watcher", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to stop watcher")
		return
	}
	writeJSON(w, http.StatusOK, h.watcher.Status())
}
