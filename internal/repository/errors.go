package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
)

const (
	activeClaimIndex     = "reservations_active_claim_uidx"
	reservedCheck        = "menu_options_reserved_check"
	codeStringTooLong    = "22001"
	codeNumericOverflow  = "22003"
	codeUniqueViolation  = "23505"
	codeCheckViolation   = "23514"
	codeSerialization    = "40001"
	codeDeadlock         = "40P01"
	codeLockNotAvailable = "55P03"
	codeQueryCanceled    = "57014"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// translate maps Postgres error codes onto the domain errors callers test
// with errors.Is. Anything unrecognised passes through untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeStringTooLong, codeNumericOverflow:
		return fmt.Errorf("%w: %s", models.ErrInvalidInput, pqErr.Message)
	case codeUniqueViolation:
		if pqErr.Constraint == activeClaimIndex {
			return fmt.Errorf("%w: %s", models.ErrDuplicateClaim, pqErr.Message)
		}
	case codeCheckViolation:
		if pqErr.Constraint == reservedCheck {
			return fmt.Errorf("%w: %s", models.ErrInvalidCapacityEdit, pqErr.Message)
		}
	case codeSerialization, codeDeadlock, codeLockNotAvailable, codeQueryCanceled:
		return fmt.Errorf("%w: %s", models.ErrTimeout, pqErr.Message)
	}
	return err
}
