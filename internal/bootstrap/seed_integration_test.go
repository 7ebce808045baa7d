//go:build integration

package bootstrap_test

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sungwon/newsletter/internal/bootstrap"
	"github.com/sungwon/newsletter/internal/storage/storagetest"
	"github.com/sungwon/newsletter/internal/subscriber"
)

var pg *storagetest.Postgres

func TestMain(m *testing.M) {
	ctx := context.Background()
	pg = storagetest.MustStart(ctx)
	code := m.Run()
	pg.Terminate(ctx)
	os.Exit(code)
}

func TestSeedSubscribers_InsertsConfirmed(t *testing.T) {
	pg.Reset(t)
	ctx := context.Background()

	err := bootstrap.SeedSubscribers(ctx, pg.DB.Pool, zerolog.Nop(),
		[]string{"a@example.com", "b@example.com"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), pg.Count(t,
		`SELECT count(*) FROM subscriptions WHERE status = 'confirmed'`))
}

func TestSeedSubscribers_Idempotent(t *testing.T) {
	pg.Reset(t)
	ctx := context.Background()
	pg.AddSubscriber(t, "pending@example.com", "pending_confirmation")

	emails := []string{"pending@example.com", "new@example.com"}
	require.NoError(t, bootstrap.SeedSubscribers(ctx, pg.DB.Pool, zerolog.Nop(), emails))
	require.NoError(t, bootstrap.SeedSubscribers(ctx, pg.DB.Pool, zerolog.Nop(), emails))

	assert.Equal(t, int64(2), pg.Count(t, `SELECT count(*) FROM subscriptions`))
	assert.Equal(t, int64(1), pg.Count(t,
		`SELECT count(*) FROM subscriptions WHERE email = 'pending@example.com' AND status = 'pending_confirmation'`))
}

func TestSeedSubscribers_InvalidAddressWritesNothing(t *testing.T) {
	pg.Reset(t)
	ctx := context.Background()

	err := bootstrap.SeedSubscribers(ctx, pg.DB.Pool, zerolog.Nop(),
		[]string{"ok@example.com", "not-an-address"})
	require.ErrorIs(t, err, subscriber.ErrInvalidEmail)

	assert.Equal(t, int64(0), pg.Count(t, `SELECT count(*) FROM subscriptions`))
}
