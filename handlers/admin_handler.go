package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"waiting-room/models"
	"waiting-room/services"
)

type AdminHandler struct {
	app     *pocketbase.PocketBase
	configs *services.ConfigRecords
	queue   *services.QueueService
	worker  *services.AdmissionWorker
}

func NewAdminHandler(app *pocketbase.PocketBase, configs *services.ConfigRecords, queue *services.QueueService, worker *services.AdmissionWorker) *AdminHandler {
	return &AdminHandler{
		app:     app,
		configs: configs,
		queue:   queue,
		worker:  worker,
	}
}

// GetConfig returns the capacity policy for one event.
func (h *AdminHandler) GetConfig(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if !isValidID(eventID) {
		return apis.NewBadRequestError("Invalid event id", nil)
	}

	cfg, err := h.configs.Get(eventID)
	if err != nil {
		return queueError(err)
	}

	return e.JSON(http.StatusOK, cfg)
}

// SetConfig creates or updates the capacity policy for an event.
func (h *AdminHandler) SetConfig(e *core.RequestEvent) error {
	var req struct {
		EventID       string `json:"event_id"`
		MaxConcurrent int    `json:"max_concurrent"`
		MaxUsers      int    `json:"max_users"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if !isValidID(req.EventID) {
		return apis.NewBadRequestError("Invalid event id", nil)
	}

	cfg, err := h.configs.Set(&models.QueueConfig{
		EventID:       req.EventID,
		MaxConcurrent: req.MaxConcurrent,
		MaxUsers:      req.MaxUsers,
	})
	if err != nil {
		return apis.NewBadRequestError("Invalid configuration", err)
	}

	return e.JSON(http.StatusOK, cfg)
}

// DeleteConfig removes an event's capacity policy. Ledger rows are kept; the
// ephemeral queue state dies by TTL once the worker stops tracking the event.
func (h *AdminHandler) DeleteConfig(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if !isValidID(eventID) {
		return apis.NewBadRequestError("Invalid event id", nil)
	}

	if err := h.configs.Delete(eventID); err != nil {
		return queueError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"deleted": eventID})
}

// RunWorker triggers a reconciliation pass on demand: one event when event_id
// is given, every configured event otherwise.
func (h *AdminHandler) RunWorker(e *core.RequestEvent) error {
	var req struct {
		EventID string `json:"event_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ctx := e.Request.Context()

	var reports []models.EventReport
	if req.EventID != "" {
		if !isValidID(req.EventID) {
			return apis.NewBadRequestError("Invalid event id", nil)
		}
		reports = []models.EventReport{h.worker.ProcessEvent(ctx, req.EventID)}
	} else {
		reports = h.worker.RunAll(ctx)
	}

	return e.JSON(http.StatusOK, map[string]any{"reports": reports})
}

// Dashboard returns live totals for every configured event.
func (h *AdminHandler) Dashboard(e *core.RequestEvent) error {
	eventIDs, err := h.configs.ListEventIDs()
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to list events", nil)
	}

	ctx := e.Request.Context()
	rows := make([]*models.QueueStats, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		stats, err := h.queue.Stats(ctx, eventID)
		if err != nil {
			continue
		}
		rows = append(rows, stats)
	}

	return e.JSON(http.StatusOK, rows)
}
