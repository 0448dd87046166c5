package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationToken_RoundTrip(t *testing.T) {
	secret := []byte("test-secret")

	token, err := signReservation(secret, "ev", "u1", "res-1", time.Now().Add(5*time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := VerifyReservation(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "ev", claims.EventID)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "res-1", claims.ReservationID)
}

func TestReservationToken_WrongSecret(t *testing.T) {
	token, err := signReservation([]byte("test-secret"), "ev", "u1", "res-1", time.Now().Add(5*time.Minute))
	require.NoError(t, err)

	_, err = VerifyReservation([]byte("other-secret"), token)
	assert.Error(t, err)
}

func TestReservationToken_Expired(t *testing.T) {
	secret := []byte("test-secret")

	token, err := signReservation(secret, "ev", "u1", "res-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = VerifyReservation(secret, token)
	assert.Error(t, err)
}

func TestReservationToken_Garbage(t *testing.T) {
	_, err := VerifyReservation([]byte("test-secret"), "not-a-token")
	assert.Error(t, err)
}
