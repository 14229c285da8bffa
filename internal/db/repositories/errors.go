// errors.go defines the sentinel errors repositories return and maps PostgreSQL
// constraint violations onto them.
package repositories

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned by mutations that matched no row. Lookups return (nil, nil) instead.
	ErrNotFound            = errors.New("resource not found")
	ErrDuplicateKey        = errors.New("duplicate key violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")
)

// mapError translates driver errors into the package sentinels, keeping the
// constraint name in the message. Other errors are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch string(pqErr.Code) {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%s: %w", pqErr.Constraint, ErrDuplicateKey)
	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%s: %w", pqErr.Constraint, ErrForeignKeyViolation)
	default:
		return err
	}
}

// requireAffected turns a zero-row UPDATE or DELETE into ErrNotFound.
func requireAffected(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
