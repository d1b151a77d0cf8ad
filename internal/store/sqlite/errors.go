package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/tractvcs/tract/internal/model"
)

// wrapDBErr wraps a database error with operation context, converting
// sql.ErrNoRows to model.ErrNotFound for consistent error handling across
// repositories (grounded on the teacher's internal/storage/sqlite/errors.go
// wrapDBError pattern, adapted to the core's single sentinel set).
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
