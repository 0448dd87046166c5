package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnState_CanTransition(t *testing.T) {
	tests := []struct {
		from    TurnState
		to      TurnState
		allowed bool
	}{
		{TurnWaiting, TurnActive, true},
		{TurnWaiting, TurnAbandoned, true},
		{TurnWaiting, TurnCompleted, false},
		{TurnActive, TurnCompleted, true},
		{TurnActive, TurnAbandoned, true},
		{TurnActive, TurnWaiting, false},
		{TurnAbandoned, TurnActive, false},
		{TurnCompleted, TurnAbandoned, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTurnState_OpenAndTerminal(t *testing.T) {
	assert.True(t, TurnWaiting.Open())
	assert.True(t, TurnActive.Open())
	assert.False(t, TurnAbandoned.Open())
	assert.False(t, TurnCompleted.Open())

	assert.True(t, TurnAbandoned.Terminal())
	assert.True(t, TurnCompleted.Terminal())
	assert.False(t, TurnWaiting.Terminal())
	assert.False(t, TurnActive.Terminal())
}

func TestQueueConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  QueueConfig
		err  error
	}{
		{"valid", QueueConfig{EventID: "ev", MaxConcurrent: 2, MaxUsers: 10}, nil},
		{"equal limits", QueueConfig{EventID: "ev", MaxConcurrent: 5, MaxUsers: 5}, nil},
		{"missing event id", QueueConfig{MaxConcurrent: 1, MaxUsers: 1}, ErrInvalidEventID},
		{"zero concurrency", QueueConfig{EventID: "ev", MaxConcurrent: 0, MaxUsers: 10}, ErrInvalidMaxConcurrent},
		{"negative concurrency", QueueConfig{EventID: "ev", MaxConcurrent: -1, MaxUsers: 10}, ErrInvalidMaxConcurrent},
		{"max users below concurrency", QueueConfig{EventID: "ev", MaxConcurrent: 5, MaxUsers: 4}, ErrInvalidMaxUsers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}
