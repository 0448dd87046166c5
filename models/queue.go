package models

import (
	"time"
)

type QueueConfig struct {
	EventID       string    `json:"event_id"`
	MaxConcurrent int       `json:"max_concurrent"`
	MaxUsers      int       `json:"max_users"`
	CreatedAt     time.Time `json:"created_at"`
}

func (c *QueueConfig) Validate() error {
	if c.EventID == "" {
		return ErrInvalidEventID
	}
	if c.MaxConcurrent < 1 {
		return ErrInvalidMaxConcurrent
	}
	if c.MaxUsers < c.MaxConcurrent {
		return ErrInvalidMaxUsers
	}
	return nil
}

// JoinResult is the outcome of one join call. Position is 1-based and only
// meaningful when Admitted is false.
type JoinResult struct {
	EventID       string `json:"event_id"`
	UserID        string `json:"user_id"`
	Admitted      bool   `json:"admitted"`
	Position      int    `json:"position,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	Token         string `json:"token,omitempty"`
}

type PositionStatus struct {
	EventID       string `json:"event_id"`
	UserID        string `json:"user_id"`
	Admitted      bool   `json:"admitted"`
	Position      int    `json:"position,omitempty"`
	TotalWaiting  int64  `json:"total_waiting"`
	TotalActive   int64  `json:"total_active"`
	ReservationID string `json:"reservation_id,omitempty"`
}

// EventReport is the per-event outcome of one worker pass.
type EventReport struct {
	EventID         string   `json:"event_id"`
	Reclaimed       int      `json:"reclaimed"`
	Promoted        int      `json:"promoted"`
	NewlyActiveIDs  []string `json:"newly_active_user_ids"`
	OrphanedClosed  int      `json:"orphaned_closed,omitempty"`
	Err             string   `json:"error,omitempty"`
}

type QueueStats struct {
	EventID       string `json:"event_id"`
	TotalWaiting  int64  `json:"total_waiting"`
	TotalActive   int64  `json:"total_active"`
	MaxConcurrent int    `json:"max_concurrent"`
	MaxUsers      int    `json:"max_users"`
}
