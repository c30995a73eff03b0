package session

import "errors"

var (
	// ErrSpotNotFound is returned when starting against an unknown spot.
	ErrSpotNotFound = errors.New("session: spot not found")

	// ErrSpotUnavailable is returned when the spot is already occupied.
	ErrSpotUnavailable = errors.New("session: spot unavailable")

	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrAlreadyEnded is returned when ending a session twice.
	ErrAlreadyEnded = errors.New("session: already ended")
)
