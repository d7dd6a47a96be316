package handler

import (
	"log/slog"
	"net/http"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// EventsHandler serves the persisted trade event history.
type EventsHandler struct {
	store  domain.EventStore
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(store domain.EventStore, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		store:  store,
		logger: logger.With(slog.String("handler", "events")),
	}
}

// ListEvents returns recent events, newest first. fresh=true narrows the
// listing to fresh wallet trades.
// GET /api/events
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		events []domain.TradeEvent
		err    error
	)
	if r.URL.Query().Get("fresh") == "true" {
		events, err = h.store.ListFresh(r.Context(), opts)
	} else {
		events, err = h.store.ListRecent(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.TradeEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// ClearEvents deletes the entire event history.
// DELETE /api/events
func (h *EventsHandler) ClearEvents(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "clear events", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to clear events")
		return
	}
	h.logger.InfoContext(r.Context(), "event history cleared", slog.Int64("deleted", deleted))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
