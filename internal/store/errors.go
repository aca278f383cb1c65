package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist, or exists but is not
// in the state the operation requires.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a unique constraint.
var ErrConflict = errors.New("conflict")

const (
	pqUniqueViolation   = "23505"
	pqInvalidTextRepr   = "22P02"
	pqForeignKeyMissing = "23503"
)

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return ErrConflict
		case pqInvalidTextRepr, pqForeignKeyMissing:
			// Malformed uuid or dangling reference: nothing to find.
			return ErrNotFound
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}
