package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waiting-room/internal/status"
	"waiting-room/models"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"concert-2026", true},
		{"user_42", true},
		{"A", true},
		{strings.Repeat("a", 64), true},
		{"", false},
		{strings.Repeat("a", 65), false},
		{"has space", false},
		{"semi;colon", false},
		{"path/../traversal", false},
		{"ユーザー", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, isValidID(tt.id), "id %q", tt.id)
	}
}

func TestQueueRequest_Validate(t *testing.T) {
	req := queueRequest{EventID: "ev", UserID: "u1"}
	assert.NoError(t, req.validate())

	req = queueRequest{EventID: "", UserID: "u1"}
	assert.ErrorIs(t, req.validate(), models.ErrInvalidEventID)

	req = queueRequest{EventID: "ev", UserID: "bad id"}
	assert.ErrorIs(t, req.validate(), models.ErrInvalidUserID)
}

func TestQueueError_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"config not found", status.ErrConfigNotFound, http.StatusNotFound},
		{"not in queue", status.ErrNotInQueue, http.StatusNotFound},
		{"capacity exceeded", status.ErrCapacityExceeded, http.StatusConflict},
		{"coordinator down", status.ErrCoordinatorUnavailable, http.StatusServiceUnavailable},
		{"invalid event id", models.ErrInvalidEventID, http.StatusBadRequest},
		{"invalid user id", models.ErrInvalidUserID, http.StatusBadRequest},
		{"unknown", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr *router.ApiError
			require.ErrorAs(t, queueError(tt.err), &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
		})
	}
}
