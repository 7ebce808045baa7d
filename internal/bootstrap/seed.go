// Package bootstrap provides startup-time initialization routines for
// development environments.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/storage"
	"github.com/sungwon/newsletter/internal/subscriber"
)

// SeedSubscribers makes sure every address in emails has a confirmed
// subscription. It is idempotent: existing rows keep their id and status.
// Invalid addresses abort the seed before anything is written.
func SeedSubscribers(ctx context.Context, conn storage.Conn, log zerolog.Logger, emails []string) error {
	if len(emails) == 0 {
		return nil
	}

	parsed := make([]subscriber.Email, 0, len(emails))
	for _, raw := range emails {
		e, err := subscriber.ParseEmail(raw)
		if err != nil {
			return fmt.Errorf("seed subscriber %q: %w", raw, err)
		}
		parsed = append(parsed, e)
	}

	var inserted int64
	err := storage.RunInTx(ctx, conn, func(tx pgx.Tx) error {
		for _, e := range parsed {
			tag, err := tx.Exec(ctx,
				`INSERT INTO subscriptions (id, email, name, subscribed_at, status)
				 VALUES ($1, $2, $3, now(), 'confirmed')
				 ON CONFLICT (email) DO NOTHING`,
				uuid.New(), e.String(), e.Local())
			if err != nil {
				return fmt.Errorf("insert subscriber %s: %w", e, err)
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Int("requested", len(parsed)).
		Int64("inserted", inserted).
		Msg("seed subscribers applied")
	return nil
}
