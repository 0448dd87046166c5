package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"waiting-room/internal/status"
	"waiting-room/models"
	"waiting-room/monitoring"
	"waiting-room/utils"
)

// QueueService is the gateway-facing admission engine. Every capacity
// decision happens inside the coordinator's scripts; this layer adds the
// config lookup, the fail-closed breaker, reservation issuance and the
// ledger mirror.
type QueueService struct {
	coord   *Coordinator
	configs ConfigStore
	ledger  Ledger
	breaker *utils.CircuitBreaker
	monitor *monitoring.Monitor
	secret  []byte
	slotTTL time.Duration
	now     func() time.Time
}

func NewQueueService(coord *Coordinator, configs ConfigStore, ledger Ledger, monitor *monitoring.Monitor, secret string, slotTTL time.Duration) *QueueService {
	return &QueueService{
		coord:   coord,
		configs: configs,
		ledger:  ledger,
		breaker: utils.NewCircuitBreaker("coordinator"),
		monitor: monitor,
		secret:  []byte(secret),
		slotTTL: slotTTL,
		now:     time.Now,
	}
}

// Join admits the user right away when a slot is free, otherwise appends them
// to the waiting list. Repeated calls for a user already in the queue are
// idempotent. Fails closed: no admission is ever reported without a
// successful scripted accounting operation.
func (s *QueueService) Join(ctx context.Context, eventID, userID string) (*models.JoinResult, error) {
	if eventID == "" {
		return nil, models.ErrInvalidEventID
	}
	if userID == "" {
		return nil, models.ErrInvalidUserID
	}

	cfg, err := s.configs.Get(eventID)
	if err != nil {
		return nil, err
	}

	var outcome *JoinOutcome
	err = s.breaker.Execute(func() error {
		var execErr error
		outcome, execErr = s.coord.Join(ctx, eventID, userID, cfg.MaxConcurrent, cfg.MaxUsers)
		return execErr
	})
	if err != nil {
		s.track("join", eventID, "error")
		return nil, fmt.Errorf("%w: %v", status.ErrCoordinatorUnavailable, err)
	}

	result := &models.JoinResult{EventID: eventID, UserID: userID}

	switch outcome.Status {
	case joinFull:
		s.track("join", eventID, "rejected")
		return nil, status.ErrCapacityExceeded

	case joinActive:
		// Idempotent repeat of an admitted user.
		result.Admitted = true
		if _, _, reservationID, posErr := s.coord.Position(ctx, eventID, userID); posErr == nil {
			result.ReservationID = reservationID
		}
		s.track("join", eventID, "repeat")
		return result, nil

	case joinWaiting:
		result.Position = outcome.Position
		s.track("join", eventID, "repeat")
		return result, nil

	case joinAdmitted:
		reservationID := uuid.NewString()
		expiresAt := s.now().Add(s.slotTTL)
		if err := s.coord.MarkAdmitted(ctx, eventID, userID, reservationID); err != nil {
			slog.Error("failed to store reservation id", "eventId", eventID, "userId", userID, "error", err)
		}

		token, err := signReservation(s.secret, eventID, userID, reservationID, expiresAt)
		if err != nil {
			slog.Error("failed to sign reservation token", "eventId", eventID, "userId", userID, "error", err)
		}

		result.Admitted = true
		result.ReservationID = reservationID
		result.Token = token

		now := s.now()
		s.mirrorOpen(eventID, userID, &models.Turn{
			EventID:          eventID,
			UserID:           userID,
			State:            models.TurnActive,
			ReservationID:    reservationID,
			EnteredWaitingAt: now,
			AdmittedAt:       &now,
		})
		s.track("join", eventID, "admitted")
		return result, nil

	case joinQueued:
		result.Position = outcome.Position
		s.mirrorOpen(eventID, userID, &models.Turn{
			EventID:          eventID,
			UserID:           userID,
			State:            models.TurnWaiting,
			Position:         outcome.Position,
			EnteredWaitingAt: s.now(),
		})
		s.track("join", eventID, "queued")
		return result, nil

	default:
		return nil, fmt.Errorf("%w: unexpected join status %q", status.ErrCoordinatorUnavailable, outcome.Status)
	}
}

// Position is a pure read of the caller's placement plus the event totals.
func (s *QueueService) Position(ctx context.Context, eventID, userID string) (*models.PositionStatus, error) {
	if eventID == "" {
		return nil, models.ErrInvalidEventID
	}
	if userID == "" {
		return nil, models.ErrInvalidUserID
	}

	var (
		admitted      bool
		position      int
		reservationID string
		notFound      error
	)
	err := s.breaker.Execute(func() error {
		var execErr error
		admitted, position, reservationID, execErr = s.coord.Position(ctx, eventID, userID)
		// Absence is a normal outcome, not a coordinator failure; it must not
		// feed the breaker.
		if errors.Is(execErr, status.ErrNotInQueue) || errors.Is(execErr, status.ErrExpiredReservation) {
			notFound = execErr
			return nil
		}
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrCoordinatorUnavailable, err)
	}
	if notFound != nil {
		if errors.Is(notFound, status.ErrExpiredReservation) {
			// Lapsed slot awaiting reclamation; from the outside the user is
			// simply no longer in the queue.
			slog.Debug("position hit lapsed reservation", "eventId", eventID, "userId", userID)
		}
		return nil, status.ErrNotInQueue
	}

	waiting, active, err := s.coord.Counts(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrCoordinatorUnavailable, err)
	}

	return &models.PositionStatus{
		EventID:       eventID,
		UserID:        userID,
		Admitted:      admitted,
		Position:      position,
		TotalWaiting:  waiting,
		TotalActive:   active,
		ReservationID: reservationID,
	}, nil
}

// Leave removes the user from the queue. Freed capacity is handed out by the
// next worker pass, never here.
func (s *QueueService) Leave(ctx context.Context, eventID, userID string) (bool, error) {
	if eventID == "" || userID == "" {
		return false, models.ErrInvalidEventID
	}

	var which string
	err := s.breaker.Execute(func() error {
		var execErr error
		which, execErr = s.coord.Leave(ctx, eventID, userID)
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", status.ErrCoordinatorUnavailable, err)
	}

	if which == "none" {
		return false, nil
	}

	s.closeOpenTurn(eventID, userID, models.TurnAbandoned)
	s.track("leave", eventID, which)
	return true, nil
}

// Complete records a finished checkout signaled by the external checkout
// collaborator: the active slot is released and the turn closes as completed.
func (s *QueueService) Complete(ctx context.Context, eventID, userID string) (bool, error) {
	if eventID == "" || userID == "" {
		return false, models.ErrInvalidEventID
	}

	var removed bool
	err := s.breaker.Execute(func() error {
		var execErr error
		removed, execErr = s.coord.Complete(ctx, eventID, userID)
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", status.ErrCoordinatorUnavailable, err)
	}

	if !removed {
		return false, nil
	}

	s.closeOpenTurn(eventID, userID, models.TurnCompleted)
	s.track("complete", eventID, "success")
	return true, nil
}

// Stats reports the live totals for one configured event.
func (s *QueueService) Stats(ctx context.Context, eventID string) (*models.QueueStats, error) {
	cfg, err := s.configs.Get(eventID)
	if err != nil {
		return nil, err
	}

	waiting, active, err := s.coord.Counts(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrCoordinatorUnavailable, err)
	}

	return &models.QueueStats{
		EventID:       eventID,
		TotalWaiting:  waiting,
		TotalActive:   active,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxUsers:      cfg.MaxUsers,
	}, nil
}

// mirrorOpen writes the ledger row for a fresh placement. A stale open turn
// left over from a lapsed slot is closed first so the open-turn unique index
// stays satisfied. Ledger failures are logged, never bounced to the caller:
// the coordinator already made the decision.
func (s *QueueService) mirrorOpen(eventID, userID string, turn *models.Turn) {
	if stale, _ := s.ledger.Open(eventID, userID); stale != nil {
		if err := s.ledger.MarkAbandoned(stale.ID, s.now()); err != nil {
			slog.Error("failed to close stale turn", "turnId", stale.ID, "error", err)
		}
	}

	if _, err := s.ledger.Create(turn); err != nil {
		slog.Error("failed to mirror turn", "eventId", eventID, "userId", userID, "error", err)
	}
}

func (s *QueueService) closeOpenTurn(eventID, userID string, next models.TurnState) {
	turn, err := s.ledger.Open(eventID, userID)
	if err != nil || turn == nil {
		return
	}

	switch next {
	case models.TurnCompleted:
		err = s.ledger.MarkCompleted(turn.ID, s.now())
	default:
		err = s.ledger.MarkAbandoned(turn.ID, s.now())
	}
	if err != nil {
		slog.Error("failed to close turn", "turnId", turn.ID, "state", next, "error", err)
	}
}

func (s *QueueService) track(operation, eventID, result string) {
	if s.monitor != nil {
		s.monitor.TrackQueueOperation(operation, eventID, result)
	}
}
