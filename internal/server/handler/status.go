package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// WatcherControl is the slice of the watcher the API needs: lifecycle,
// live status, and the save filter.
type WatcherControl interface {
	Start(ctx context.Context) error
	Stop() error
	Status() domain.WatcherStatus
	GetFilter() domain.EventFilter
	SetFilter(f domain.EventFilter)
}

// StatusHandler reports the process mode, uptime, stream status, and the
// size of the persisted event set.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	watcher   WatcherControl
	events    domain.EventStore
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. watcher and events may be nil
// when the process runs in a mode that does not carry them.
func NewStatusHandler(mode string, startedAt time.Time, watcher WatcherControl, events domain.EventStore, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		watcher:   watcher,
		events:    events,
		logger:    logger.With(slog.String("handler", "status")),
	}
}

// GetStatus responds with the full status snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.watcher != nil {
		resp["watcher"] = h.watcher.Status()
	}
	if h.events != nil {
		info, err := h.events.Info(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "database info unavailable", slog.String("error", err.Error()))
		} else {
			resp["database"] = info
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
