package handlers

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"waiting-room/internal/status"
	"waiting-room/models"
	"waiting-room/services"
)

type QueueHandler struct {
	app   *pocketbase.PocketBase
	queue *services.QueueService
}

func NewQueueHandler(app *pocketbase.PocketBase, queue *services.QueueService) *QueueHandler {
	return &QueueHandler{
		app:   app,
		queue: queue,
	}
}

type queueRequest struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func isValidID(id string) bool {
	return idPattern.MatchString(id)
}

func (r *queueRequest) validate() error {
	if !isValidID(r.EventID) {
		return models.ErrInvalidEventID
	}
	if !isValidID(r.UserID) {
		return models.ErrInvalidUserID
	}
	return nil
}

func (h *QueueHandler) Join(e *core.RequestEvent) error {
	var req queueRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := req.validate(); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	result, err := h.queue.Join(e.Request.Context(), req.EventID, req.UserID)
	if err != nil {
		return queueError(err)
	}

	return e.JSON(http.StatusOK, result)
}

func (h *QueueHandler) Position(e *core.RequestEvent) error {
	req := queueRequest{
		EventID: e.Request.URL.Query().Get("event_id"),
		UserID:  e.Request.URL.Query().Get("user_id"),
	}
	if err := req.validate(); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	position, err := h.queue.Position(e.Request.Context(), req.EventID, req.UserID)
	if err != nil {
		return queueError(err)
	}

	return e.JSON(http.StatusOK, position)
}

func (h *QueueHandler) Leave(e *core.RequestEvent) error {
	var req queueRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := req.validate(); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	removed, err := h.queue.Leave(e.Request.Context(), req.EventID, req.UserID)
	if err != nil {
		return queueError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"removed": removed})
}

// Complete is called by the checkout collaborator once payment has settled.
func (h *QueueHandler) Complete(e *core.RequestEvent) error {
	var req queueRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := req.validate(); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	completed, err := h.queue.Complete(e.Request.Context(), req.EventID, req.UserID)
	if err != nil {
		return queueError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"completed": completed})
}

func (h *QueueHandler) Stats(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if !isValidID(eventID) {
		return apis.NewBadRequestError("Invalid event id", nil)
	}

	stats, err := h.queue.Stats(e.Request.Context(), eventID)
	if err != nil {
		return queueError(err)
	}

	return e.JSON(http.StatusOK, stats)
}

// queueError maps service errors to API responses with enough detail for a
// client to decide whether to retry.
func queueError(err error) error {
	switch {
	case errors.Is(err, status.ErrConfigNotFound):
		return apis.NewNotFoundError("No queue configured for this event", err)
	case errors.Is(err, status.ErrNotInQueue):
		return apis.NewNotFoundError("Not in queue", err)
	case errors.Is(err, status.ErrCapacityExceeded):
		return apis.NewApiError(http.StatusConflict, "Queue is full, try again later", nil)
	case errors.Is(err, status.ErrCoordinatorUnavailable):
		return apis.NewApiError(http.StatusServiceUnavailable, "Queue temporarily unavailable, retry shortly", nil)
	case errors.Is(err, models.ErrInvalidEventID), errors.Is(err, models.ErrInvalidUserID):
		return apis.NewBadRequestError("Invalid request", err)
	default:
		return apis.NewApiError(http.StatusInternalServerError, "Something went wrong", nil)
	}
}
