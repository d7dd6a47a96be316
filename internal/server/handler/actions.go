package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// ManualTrigger runs one action synchronously outside the worker loops.
type ManualTrigger interface {
	TriggerManual(ctx context.Context, accountID string, event domain.TradeEvent) (domain.Action, error)
}

// ActionsHandler serves the action queue and the manual test trigger.
type ActionsHandler struct {
	store   domain.ActionStore
	events  domain.EventStore
	trigger ManualTrigger
	logger  *slog.Logger
}

// NewActionsHandler creates an ActionsHandler. trigger may be nil when the
// orchestrator is not running in this process.
func NewActionsHandler(store domain.ActionStore, events domain.EventStore, trigger ManualTrigger, logger *slog.Logger) *ActionsHandler {
	return &ActionsHandler{
		store:   store,
		events:  events,
		trigger: trigger,
		logger:  logger.With(slog.String("handler", "actions")),
	}
}

// ListActions returns recent actions, optionally narrowed to one status.
// GET /api/actions
func (h *ActionsHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		actions []domain.Action
		err     error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		actions, err = h.store.ListByStatus(r.Context(), domain.ActionStatus(status), opts.Limit)
	} else {
		actions, err = h.store.ListRecent(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list actions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}
	if actions == nil {
		actions = []domain.Action{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"actions": actions,
		"count":   len(actions),
	})
}

// GetStats returns aggregate action counts by status.
// GET /api/actions/stats
func (h *ActionsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "action stats", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// testRequest names an account and either a stored event or an inline one.
type testRequest struct {
	AccountID string             `json:"account_id"`
	EventID   string             `json:"event_id,omitempty"`
	Event     *domain.TradeEvent `json:"event,omitempty"`
}

// TestAction runs the full pipeline once for a chosen account and event,
// bypassing trigger matching. Intended for configuration diagnostics.
// POST /api/actions/test
func (h *ActionsHandler) TestAction(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not running in this mode")
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	var event domain.TradeEvent
	switch {
	case req.Event != nil:
		event = *req.Event
	case req.EventID != "":
		var err error
		event, err = h.events.GetByID(r.Context(), req.EventID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "event not found")
				return
			}
			h.logger.ErrorContext(r.Context(), "load event", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to load event")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "event_id or event is required")
		return
	}

	action, err := h.trigger.TriggerManual(r.Context(), req.AccountID, event)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "action already exists for this event")
			return
		}
		h.logger.ErrorContext(r.Context(), "manual trigger", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "manual trigger failed")
		return
	}

	writeJSON(w, http.StatusOK, action)
}
