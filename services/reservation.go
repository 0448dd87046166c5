package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ReservationClaims is the payload of the signed token handed to an admitted
// user. The checkout collaborator verifies it instead of calling back into
// the queue on every request; expiry matches the slot TTL.
type ReservationClaims struct {
	EventID       string `json:"event_id"`
	UserID        string `json:"user_id"`
	ReservationID string `json:"reservation_id"`
	jwt.RegisteredClaims
}

func signReservation(secret []byte, eventID, userID, reservationID string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ReservationClaims{
		EventID:       eventID,
		UserID:        userID,
		ReservationID: reservationID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	return token.SignedString(secret)
}

// VerifyReservation parses and validates a reservation token.
func VerifyReservation(secret []byte, tokenString string) (*ReservationClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ReservationClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ReservationClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid reservation token")
	}
	return claims, nil
}
