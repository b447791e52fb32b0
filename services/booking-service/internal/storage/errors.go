package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict means the requested interval overlaps a live appointment
	// in the same resource scope.
	ErrConflict = errors.New("interval already booked")

	ErrNotFound = errors.New("appointment not found")

	// ErrInvalidState means the appointment's current state does not allow
	// the requested transition.
	ErrInvalidState = errors.New("invalid state transition")
)

// IsConflict also matches the exclusion-constraint violation raised if two
// writers somehow race past the advisory lock.
func IsConflict(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
