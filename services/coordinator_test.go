package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waiting-room/internal/status"
)

var testNow = time.Unix(1700000000, 0)

func setupTestCoordinator() (*Coordinator, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()

	coord := NewCoordinator(db, 5*time.Minute)
	coord.now = func() time.Time { return testNow }

	return coord, mock
}

func joinKeys(eventID, userID string) []string {
	return []string{
		"queue:active:" + eventID,
		"queue:waiting:" + eventID,
		"queue:user:" + eventID + ":" + userID,
	}
}

func TestCoordinator_Join_Admitted(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectEval(joinScript, joinKeys("test-event", "test-user"),
		"test-user", 3, 100, testNow.Unix(), testNow.Add(5*time.Minute).Unix(), 300,
	).SetVal([]interface{}{"admitted", int64(0), int64(0), int64(1)})

	outcome, err := coord.Join(ctx, "test-event", "test-user", 3, 100)

	require.NoError(t, err)
	assert.Equal(t, joinAdmitted, outcome.Status)
	assert.Equal(t, 0, outcome.Position)
	assert.Equal(t, int64(1), outcome.TotalActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Join_Queued(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectEval(joinScript, joinKeys("test-event", "test-user"),
		"test-user", 1, 100, testNow.Unix(), testNow.Add(5*time.Minute).Unix(), 300,
	).SetVal([]interface{}{"queued", int64(2), int64(2), int64(1)})

	outcome, err := coord.Join(ctx, "test-event", "test-user", 1, 100)

	require.NoError(t, err)
	assert.Equal(t, joinQueued, outcome.Status)
	assert.Equal(t, 2, outcome.Position)
	assert.Equal(t, int64(2), outcome.TotalWaiting)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Join_Full(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectEval(joinScript, joinKeys("test-event", "test-user"),
		"test-user", 1, 2, testNow.Unix(), testNow.Add(5*time.Minute).Unix(), 300,
	).SetVal([]interface{}{"full", int64(0), int64(1), int64(1)})

	outcome, err := coord.Join(ctx, "test-event", "test-user", 1, 2)

	require.NoError(t, err)
	assert.Equal(t, joinFull, outcome.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Join_RedisError(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectEval(joinScript, joinKeys("test-event", "test-user"),
		"test-user", 1, 2, testNow.Unix(), testNow.Add(5*time.Minute).Unix(), 300,
	).SetErr(errors.New("connection refused"))

	_, err := coord.Join(ctx, "test-event", "test-user", 1, 2)

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Leave_Active(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectEval(leaveScript, joinKeys("test-event", "test-user"),
		"test-user",
	).SetVal("active")

	which, err := coord.Leave(ctx, "test-event", "test-user")

	require.NoError(t, err)
	assert.Equal(t, "active", which)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Leave_NotInQueue(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectEval(leaveScript, joinKeys("test-event", "test-user"),
		"test-user",
	).SetVal("none")

	which, err := coord.Leave(ctx, "test-event", "test-user")

	require.NoError(t, err)
	assert.Equal(t, "none", which)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_ReclaimExpired(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectEval(reclaimScript, []string{"queue:active:test-event"},
		testNow.Unix(),
	).SetVal([]interface{}{"u1", "u2"})

	expired, err := coord.ReclaimExpired(ctx, "test-event")

	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_ReclaimExpired_SecondPassReclaimsNothing(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectEval(reclaimScript, []string{"queue:active:test-event"},
		testNow.Unix(),
	).SetVal([]interface{}{"u1"})
	mock.ExpectEval(reclaimScript, []string{"queue:active:test-event"},
		testNow.Unix(),
	).SetVal([]interface{}{})

	first, err := coord.ReclaimExpired(ctx, "test-event")
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := coord.ReclaimExpired(ctx, "test-event")
	require.NoError(t, err)
	assert.Empty(t, second)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Promote(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectEval(promoteScript,
		[]string{"queue:active:test-event", "queue:waiting:test-event"},
		2, testNow.Unix(), testNow.Add(5*time.Minute).Unix(),
	).SetVal([]interface{}{"u3"})

	promoted, err := coord.Promote(ctx, "test-event", 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Complete(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectEval(completeScript,
		[]string{"queue:active:test-event", "queue:user:test-event:test-user"},
		"test-user",
	).SetVal(int64(1))

	removed, err := coord.Complete(ctx, "test-event", "test-user")

	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Position_Admitted(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectZScore("queue:active:test-event", "test-user").
		SetVal(float64(testNow.Add(4 * time.Minute).Unix()))
	mock.ExpectHGet("queue:user:test-event:test-user", "reservation_id").
		SetVal("res-123")

	admitted, position, reservationID, err := coord.Position(ctx, "test-event", "test-user")

	require.NoError(t, err)
	assert.True(t, admitted)
	assert.Equal(t, 0, position)
	assert.Equal(t, "res-123", reservationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Position_Waiting(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectZScore("queue:active:test-event", "test-user").RedisNil()
	mock.ExpectLPos("queue:waiting:test-event", "test-user", redis.LPosArgs{}).SetVal(2)

	admitted, position, _, err := coord.Position(ctx, "test-event", "test-user")

	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, 3, position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Position_LapsedSlot(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectZScore("queue:active:test-event", "test-user").
		SetVal(float64(testNow.Add(-time.Minute).Unix()))

	_, _, _, err := coord.Position(ctx, "test-event", "test-user")

	assert.ErrorIs(t, err, status.ErrExpiredReservation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Position_NotInQueue(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectZScore("queue:active:test-event", "test-user").RedisNil()
	mock.ExpectLPos("queue:waiting:test-event", "test-user", redis.LPosArgs{}).RedisNil()

	_, _, _, err := coord.Position(ctx, "test-event", "test-user")

	assert.ErrorIs(t, err, status.ErrNotInQueue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_Counts(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectLLen("queue:waiting:test-event").SetVal(7)
	mock.ExpectZCount("queue:active:test-event", "1700000000", "+inf").SetVal(3)

	waiting, active, err := coord.Counts(ctx, "test-event")

	require.NoError(t, err)
	assert.Equal(t, int64(7), waiting)
	assert.Equal(t, int64(3), active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_TrackedEvents(t *testing.T) {
	coord, mock := setupTestCoordinator()
	defer mock.ClearExpect()

	ctx := context.Background()

	mock.ExpectSAdd("queue:events", "e1").SetVal(1)
	mock.ExpectSMembers("queue:events").SetVal([]string{"e1"})
	mock.ExpectSRem("queue:events", "e1").SetVal(1)

	require.NoError(t, coord.TrackEvent(ctx, "e1"))

	events, err := coord.TrackedEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, events)

	require.NoError(t, coord.UntrackEvent(ctx, "e1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
