package models

import (
	"errors"
	"time"
)

var (
	ErrInvalidEventID       = errors.New("models: event id is required")
	ErrInvalidUserID        = errors.New("models: user id is required")
	ErrInvalidMaxConcurrent = errors.New("models: max_concurrent must be at least 1")
	ErrInvalidMaxUsers      = errors.New("models: max_users must be at least max_concurrent")
)

type TurnState string

const (
	TurnWaiting   TurnState = "waiting"
	TurnActive    TurnState = "active"
	TurnAbandoned TurnState = "abandoned"
	TurnCompleted TurnState = "completed"
)

// Turn is the durable record of one participation attempt, mirrored from the
// coordinator after each state change. Rows are never deleted.
type Turn struct {
	ID               string     `json:"id"`
	EventID          string     `json:"event_id"`
	UserID           string     `json:"user_id"`
	State            TurnState  `json:"state"`
	Position         int        `json:"position,omitempty"`
	ReservationID    string     `json:"reservation_id,omitempty"`
	EnteredWaitingAt time.Time  `json:"entered_waiting_at"`
	AdmittedAt       *time.Time `json:"admitted_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

func (s TurnState) Terminal() bool {
	return s == TurnAbandoned || s == TurnCompleted
}

func (s TurnState) Open() bool {
	return s == TurnWaiting || s == TurnActive
}

// CanTransition reports whether the ledger state machine allows moving from s
// to next: waiting->active, waiting->abandoned, active->completed,
// active->abandoned.
func (s TurnState) CanTransition(next TurnState) bool {
	switch s {
	case TurnWaiting:
		return next == TurnActive || next == TurnAbandoned
	case TurnActive:
		return next == TurnCompleted || next == TurnAbandoned
	default:
		return false
	}
}
