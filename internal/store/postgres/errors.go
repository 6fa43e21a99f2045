package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrSnakeDoc/marksync/internal/domain"
)

// mapError converts pgx/pgconn errors to domain errors.
// Context errors are wrapped but keep their identity.
func mapError(err error, op, id string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02": // invalid_text_representation: a malformed uuid matches nothing
			return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
		case "23502", "23514": // not_null_violation, check_violation
			return fmt.Errorf("%s %s: %w", op, id, domain.ErrValidation)
		}
	}

	return fmt.Errorf("%s %s: %w", op, id, err)
}
