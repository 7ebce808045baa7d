package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sungwon/newsletter/internal/logger"
)

// RunInTx runs fn inside a transaction and commits when fn returns nil.
// Any error from fn, or a failed commit, leaves the transaction rolled back.
func RunInTx(ctx context.Context, conn Conn, fn func(tx pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer Rollback(ctx, tx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls tx back and logs failures other than pgx.ErrTxClosed, which
// only means the transaction was already committed or rolled back.
func Rollback(ctx context.Context, tx pgx.Tx) {
	// Must reach the server even when ctx is already cancelled.
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("failed to rollback transaction")
	}
}
