package status

import "errors"

var (
	ErrConfigNotFound         = errors.New("queue: no configuration for event")
	ErrCapacityExceeded       = errors.New("queue: queue is full")
	ErrNotInQueue             = errors.New("queue: user not in queue")
	ErrCoordinatorUnavailable = errors.New("queue: coordinator unavailable")
	ErrExpiredReservation     = errors.New("queue: reservation expired")
)
