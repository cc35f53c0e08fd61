package pgstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/roach88/sovereign/internal/store"
)

// classify maps a gorm/pgx error onto the store error taxonomy.
// Integrity violations (SQLSTATE class 23) are caller errors; a missing row
// is ErrNotFound; everything else means the ledger could not serve the call.
func classify(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	if isIntegrityViolation(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return store.NewUnavailableError(op, err)
}

func isIntegrityViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23")
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
