package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-billing/internal/domain"
	"course-billing/internal/domain/ports/repository"
)

const pgUniqueViolation = "23505"

// execSQL runs a statement on tx, or on the pool when tx is nil.
func execSQL(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) (pgconn.CommandTag, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	tag, err := ex.Exec(ctx, q, args...)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return tag, nil
}

// pickRow returns a single row. Scan errors are the caller's to map.
func pickRow(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) (pgx.Row, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	return ex.QueryRow(ctx, q, args...), nil
}

func queryRows(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) (pgx.Rows, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return rows, nil
}

// mapError turns driver failures into domain errors. A cancelled or expired
// context is reported as the store being unavailable so callers can retry.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("%w: %s", domain.ErrOperationFailed, pgErr.Code)
	}
	// connection-level failures
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

// scanError maps a row Scan failure. With QueryRow the statement error
// surfaces here too, so constraint codes are mapped like execSQL does.
func scanError(ctx context.Context, err error) error {
	var pgErr *pgconn.PgError
	if errors.Is(err, pgx.ErrNoRows) || ctx.Err() != nil || errors.As(err, &pgErr) {
		return mapError(ctx, err)
	}
	return domain.ErrReadDatabaseRow
}
