package services

import (
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"waiting-room/models"
)

// Ledger is the durable mirror of coordinator state transitions. It is
// written after the fact by whichever component made the coordinator change
// and is never consulted for admission decisions.
type Ledger interface {
	// Open returns the user's current waiting or active turn, or nil.
	Open(eventID, userID string) (*models.Turn, error)
	// OpenTurns returns every waiting or active turn for an event.
	OpenTurns(eventID string) ([]*models.Turn, error)
	Create(turn *models.Turn) (*models.Turn, error)
	MarkActive(turnID, reservationID string, admittedAt time.Time) error
	MarkAbandoned(turnID string, at time.Time) error
	MarkCompleted(turnID string, at time.Time) error
}

// TurnLedger stores turns in the PocketBase "turns" collection. A partial
// unique index on (event_id, user_id) over open states backs the
// one-open-turn-per-user invariant.
type TurnLedger struct {
	app core.App
}

func NewTurnLedger(app core.App) *TurnLedger {
	return &TurnLedger{app: app}
}

const turnsCollection = "turns"

func (l *TurnLedger) Open(eventID, userID string) (*models.Turn, error) {
	record, err := l.app.FindFirstRecordByFilter(
		turnsCollection,
		"event_id = {:eventId} && user_id = {:userId} && (state = 'waiting' || state = 'active')",
		dbx.Params{"eventId": eventID, "userId": userID},
	)
	if err != nil {
		return nil, nil // no open turn
	}
	return turnFromRecord(record), nil
}

func (l *TurnLedger) OpenTurns(eventID string) ([]*models.Turn, error) {
	records, err := l.app.FindRecordsByFilter(
		turnsCollection,
		"event_id = {:eventId} && (state = 'waiting' || state = 'active')",
		"created",
		0,
		0,
		dbx.Params{"eventId": eventID},
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: list open turns: %w", err)
	}

	turns := make([]*models.Turn, 0, len(records))
	for _, record := range records {
		turns = append(turns, turnFromRecord(record))
	}
	return turns, nil
}

func (l *TurnLedger) Create(turn *models.Turn) (*models.Turn, error) {
	collection, err := l.app.FindCollectionByNameOrId(turnsCollection)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("event_id", turn.EventID)
	record.Set("user_id", turn.UserID)
	record.Set("state", string(turn.State))
	record.Set("position", turn.Position)
	record.Set("reservation_id", turn.ReservationID)
	record.Set("entered_waiting_at", turn.EnteredWaitingAt)
	if turn.AdmittedAt != nil {
		record.Set("admitted_at", *turn.AdmittedAt)
	}

	if err := l.app.Save(record); err != nil {
		return nil, fmt.Errorf("ledger: create turn: %w", err)
	}
	return turnFromRecord(record), nil
}

func (l *TurnLedger) MarkActive(turnID, reservationID string, admittedAt time.Time) error {
	return l.transition(turnID, models.TurnActive, func(record *core.Record) {
		record.Set("position", 0)
		record.Set("reservation_id", reservationID)
		record.Set("admitted_at", admittedAt)
	})
}

func (l *TurnLedger) MarkAbandoned(turnID string, at time.Time) error {
	return l.transition(turnID, models.TurnAbandoned, func(record *core.Record) {
		record.Set("finished_at", at)
	})
}

func (l *TurnLedger) MarkCompleted(turnID string, at time.Time) error {
	return l.transition(turnID, models.TurnCompleted, func(record *core.Record) {
		record.Set("finished_at", at)
	})
}

func (l *TurnLedger) transition(turnID string, next models.TurnState, apply func(*core.Record)) error {
	record, err := l.app.FindRecordById(turnsCollection, turnID)
	if err != nil {
		return fmt.Errorf("ledger: turn %s: %w", turnID, err)
	}

	current := models.TurnState(record.GetString("state"))
	if !current.CanTransition(next) {
		return fmt.Errorf("ledger: turn %s: illegal transition %s -> %s", turnID, current, next)
	}

	record.Set("state", string(next))
	apply(record)

	if err := l.app.Save(record); err != nil {
		return fmt.Errorf("ledger: save turn %s: %w", turnID, err)
	}
	return nil
}

func turnFromRecord(record *core.Record) *models.Turn {
	turn := &models.Turn{
		ID:               record.Id,
		EventID:          record.GetString("event_id"),
		UserID:           record.GetString("user_id"),
		State:            models.TurnState(record.GetString("state")),
		Position:         record.GetInt("position"),
		ReservationID:    record.GetString("reservation_id"),
		EnteredWaitingAt: record.GetDateTime("entered_waiting_at").Time(),
	}
	if admitted := record.GetDateTime("admitted_at"); !admitted.IsZero() {
		t := admitted.Time()
		turn.AdmittedAt = &t
	}
	if finished := record.GetDateTime("finished_at"); !finished.IsZero() {
		t := finished.Time()
		turn.FinishedAt = &t
	}
	return turn
}
