package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"waiting-room/internal/status"
	"waiting-room/models"
	"waiting-room/monitoring"
)

// AdmissionWorker is the reconciliation loop: per configured event it
// reclaims lapsed slots, promotes as many waiting users as capacity allows,
// and mirrors both into the ledger. One failing event never aborts the
// others.
type AdmissionWorker struct {
	coord    *Coordinator
	configs  ConfigStore
	ledger   Ledger
	monitor  *monitoring.Monitor
	interval time.Duration
	now      func() time.Time

	// OnReport, when set, receives the reports of every scheduled run. Used
	// to publish worker outcomes to NATS.
	OnReport func(reports []models.EventReport)

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewAdmissionWorker(coord *Coordinator, configs ConfigStore, ledger Ledger, monitor *monitoring.Monitor, interval time.Duration) *AdmissionWorker {
	return &AdmissionWorker{
		coord:    coord,
		configs:  configs,
		ledger:   ledger,
		monitor:  monitor,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs the fixed-interval reconciliation loop until Shutdown.
func (w *AdmissionWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		slog.Info("admission worker started", "interval", w.interval)

		for {
			select {
			case <-ticker.C:
				reports := w.RunAll(ctx)
				if w.OnReport != nil && len(reports) > 0 {
					w.OnReport(reports)
				}
			case <-w.stopChan:
				slog.Info("admission worker stopping")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the loop and waits for an in-flight pass to finish.
func (w *AdmissionWorker) Shutdown() {
	close(w.stopChan)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("admission worker stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("timeout waiting for admission worker to stop")
	}
}

// RunAll processes every event tracked as configured. Event failures are
// recorded in their report and skipped.
func (w *AdmissionWorker) RunAll(ctx context.Context) []models.EventReport {
	eventIDs, err := w.coord.TrackedEvents(ctx)
	if err != nil {
		slog.Error("failed to list tracked events", "error", err)
		return nil
	}

	reports := make([]models.EventReport, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		report := w.ProcessEvent(ctx, eventID)
		if report.Err != "" {
			slog.Error("worker pass failed", "eventId", eventID, "error", report.Err)
		}
		reports = append(reports, report)
	}
	return reports
}

// ProcessEvent runs one reclaim-then-promote pass for a single event and
// mirrors the outcome into the ledger.
func (w *AdmissionWorker) ProcessEvent(ctx context.Context, eventID string) models.EventReport {
	started := w.now()
	report := models.EventReport{EventID: eventID, NewlyActiveIDs: []string{}}

	cfg, err := w.configs.Get(eventID)
	if err != nil {
		if errors.Is(err, status.ErrConfigNotFound) {
			// Config was deleted; stop tracking the event. Ephemeral state
			// dies by TTL, ledger rows stay for audit.
			if err := w.coord.UntrackEvent(ctx, eventID); err != nil {
				slog.Error("failed to untrack event", "eventId", eventID, "error", err)
			}
		}
		report.Err = err.Error()
		return report
	}

	expired, err := w.coord.ReclaimExpired(ctx, eventID)
	if err != nil {
		report.Err = err.Error()
		return report
	}
	for _, userID := range expired {
		w.closeAbandoned(eventID, userID)
	}
	report.Reclaimed = len(expired)

	promoted, err := w.coord.Promote(ctx, eventID, cfg.MaxConcurrent)
	if err != nil {
		report.Err = err.Error()
		return report
	}
	for _, userID := range promoted {
		w.admit(ctx, eventID, userID)
	}
	report.Promoted = len(promoted)
	report.NewlyActiveIDs = append(report.NewlyActiveIDs, promoted...)

	report.OrphanedClosed = w.sweepOrphans(ctx, eventID)

	if w.monitor != nil {
		w.monitor.TrackWorkerPass(eventID, w.now().Sub(started), report.Reclaimed, report.Promoted)
	}
	return report
}

// admit finishes a promotion: reservation id, user hash refresh, ledger
// waiting->active.
func (w *AdmissionWorker) admit(ctx context.Context, eventID, userID string) {
	reservationID := uuid.NewString()

	if err := w.coord.MarkAdmitted(ctx, eventID, userID, reservationID); err != nil {
		slog.Error("failed to mark promoted user admitted", "eventId", eventID, "userId", userID, "error", err)
	}

	turn, err := w.ledger.Open(eventID, userID)
	if err != nil || turn == nil {
		slog.Warn("promoted user has no open turn", "eventId", eventID, "userId", userID)
		return
	}
	if err := w.ledger.MarkActive(turn.ID, reservationID, w.now()); err != nil {
		slog.Error("failed to mirror promotion", "turnId", turn.ID, "error", err)
	}
}

func (w *AdmissionWorker) closeAbandoned(eventID, userID string) {
	turn, err := w.ledger.Open(eventID, userID)
	if err != nil || turn == nil {
		return
	}
	if err := w.ledger.MarkAbandoned(turn.ID, w.now()); err != nil {
		slog.Error("failed to mirror reclamation", "turnId", turn.ID, "error", err)
	}
}

// sweepOrphans closes open ledger turns whose coordinator state is gone,
// which happens when ephemeral state is lost (store restart) or a mirror
// write was missed. The ledger is never used to rebuild the queue; affected
// users simply rejoin.
func (w *AdmissionWorker) sweepOrphans(ctx context.Context, eventID string) int {
	turns, err := w.ledger.OpenTurns(eventID)
	if err != nil {
		slog.Error("failed to list open turns", "eventId", eventID, "error", err)
		return 0
	}

	closed := 0
	for _, turn := range turns {
		present, err := w.coord.Contains(ctx, eventID, turn.UserID)
		if err != nil || present {
			continue
		}
		if err := w.ledger.MarkAbandoned(turn.ID, w.now()); err != nil {
			slog.Error("failed to close orphaned turn", "turnId", turn.ID, "error", err)
			continue
		}
		closed++
	}
	return closed
}
