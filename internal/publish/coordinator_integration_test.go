//go:build integration

package publish_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sungwon/newsletter/internal/idempotency"
	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/notify"
	"github.com/sungwon/newsletter/internal/outbox"
	"github.com/sungwon/newsletter/internal/publish"
	"github.com/sungwon/newsletter/internal/storage/storagetest"
)

var pg *storagetest.Postgres

func TestMain(m *testing.M) {
	ctx := context.Background()
	pg = storagetest.MustStart(ctx)
	code := m.Run()
	pg.Terminate(ctx)
	os.Exit(code)
}

func newCoordinator(n notify.Publisher) *publish.Coordinator {
	pool := pg.DB.Pool
	return publish.NewCoordinator(
		idempotency.NewStore(pool, zerolog.Nop(), idempotency.WithPolling(5, 50*time.Millisecond)),
		issue.NewStore(pool),
		outbox.NewQueue(pool, zerolog.Nop()),
		n,
		"/admin/newsletters",
		zerolog.Nop(),
	)
}

func request(owner uuid.UUID, key string) publish.Request {
	return publish.Request{
		OwnerID:        owner,
		IdempotencyKey: key,
		Title:          "Issue #1",
		TextContent:    "plain body",
		HTMLContent:    "<p>html body</p>",
	}
}

func seedSubscribers(t *testing.T) {
	pg.AddSubscriber(t, "a@example.com", "confirmed")
	pg.AddSubscriber(t, "b@example.com", "confirmed")
	pg.AddSubscriber(t, "c@example.com", "confirmed")
	pg.AddSubscriber(t, "pending@example.com", "pending_confirmation")
}

func TestPublish_CreatesIssueAndDeliveries(t *testing.T) {
	pg.Reset(t)
	seedSubscribers(t)
	local := notify.NewLocal()
	c := newCoordinator(local)

	res, err := c.Publish(context.Background(), request(uuid.New(), "first"))
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.NotEqual(t, uuid.Nil, res.IssueID)
	assert.Equal(t, 303, res.Response.StatusCode)
	require.Len(t, res.Response.Headers, 1)
	assert.Equal(t, "Location", res.Response.Headers[0].Name)
	assert.Equal(t, "/admin/newsletters", string(res.Response.Headers[0].Value))
	assert.Empty(t, res.Response.Body)

	assert.EqualValues(t, 1, pg.Count(t, `SELECT count(*) FROM newsletter_issues`))
	assert.EqualValues(t, 3, pg.Count(t,
		`SELECT count(*) FROM issue_delivery_queue WHERE newsletter_issue_id = $1`, res.IssueID))
	assert.EqualValues(t, 0, pg.Count(t,
		`SELECT count(*) FROM issue_delivery_queue WHERE subscriber_email = 'pending@example.com'`))

	select {
	case <-local.Listen(context.Background()):
	case <-time.After(time.Second):
		t.Fatal("expected a wake-up signal after commit")
	}
}

func TestPublish_ReplayReturnsSavedResponse(t *testing.T) {
	pg.Reset(t)
	seedSubscribers(t)
	c := newCoordinator(nil)
	owner := uuid.New()

	first, err := c.Publish(context.Background(), request(owner, "same-key"))
	require.NoError(t, err)

	second, err := c.Publish(context.Background(), request(owner, "same-key"))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, uuid.Nil, second.IssueID)
	if diff := cmp.Diff(first.Response, second.Response); diff != "" {
		t.Errorf("replayed response differs (-first +second):\n%s", diff)
	}

	assert.EqualValues(t, 1, pg.Count(t, `SELECT count(*) FROM newsletter_issues`))
	assert.EqualValues(t, 3, pg.Count(t, `SELECT count(*) FROM issue_delivery_queue`))
}

func TestPublish_KeysAreScopedPerOwner(t *testing.T) {
	pg.Reset(t)
	seedSubscribers(t)
	c := newCoordinator(nil)

	_, err := c.Publish(context.Background(), request(uuid.New(), "shared"))
	require.NoError(t, err)
	res, err := c.Publish(context.Background(), request(uuid.New(), "shared"))
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.EqualValues(t, 2, pg.Count(t, `SELECT count(*) FROM newsletter_issues`))
	assert.EqualValues(t, 6, pg.Count(t, `SELECT count(*) FROM issue_delivery_queue`))
}

func TestPublish_ConcurrentSameKeyPublishesOnce(t *testing.T) {
	pg.Reset(t)
	seedSubscribers(t)
	c := newCoordinator(nil)
	owner := uuid.New()

	const n = 8
	results := make([]publish.Result, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = c.Publish(context.Background(), request(owner, "race"))
		}(i)
	}
	close(start)
	wg.Wait()

	published := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if !results[i].Replayed {
			published++
		}
		if diff := cmp.Diff(results[0].Response, results[i].Response); diff != "" {
			t.Errorf("response %d differs:\n%s", i, diff)
		}
	}

	assert.Equal(t, 1, published)
	assert.EqualValues(t, 1, pg.Count(t, `SELECT count(*) FROM newsletter_issues`))
	assert.EqualValues(t, 3, pg.Count(t, `SELECT count(*) FROM issue_delivery_queue`))
}

func TestPublish_FailureRollsBackEverything(t *testing.T) {
	pg.Reset(t)
	seedSubscribers(t)
	pg.AddSubscriber(t, "poison@example.com", "confirmed")

	ctx := context.Background()
	_, err := pg.DB.Pool.Exec(ctx,
		`ALTER TABLE issue_delivery_queue ADD CONSTRAINT no_poison CHECK (subscriber_email <> 'poison@example.com')`)
	require.NoError(t, err)
	dropped := false
	drop := func() {
		if dropped {
			return
		}
		dropped = true
		_, err := pg.DB.Pool.Exec(ctx, `ALTER TABLE issue_delivery_queue DROP CONSTRAINT no_poison`)
		require.NoError(t, err)
	}
	t.Cleanup(drop)

	c := newCoordinator(nil)
	owner := uuid.New()

	_, err = c.Publish(ctx, request(owner, "atomic"))
	require.Error(t, err)

	assert.EqualValues(t, 0, pg.Count(t, `SELECT count(*) FROM newsletter_issues`))
	assert.EqualValues(t, 0, pg.Count(t, `SELECT count(*) FROM issue_delivery_queue`))
	assert.EqualValues(t, 0, pg.Count(t, `SELECT count(*) FROM idempotency`))

	// The key was never recorded, so the same request goes through once the
	// fault is gone.
	drop()
	res, err := c.Publish(ctx, request(owner, "atomic"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.EqualValues(t, 4, pg.Count(t, `SELECT count(*) FROM issue_delivery_queue`))
}

func TestPublish_InvalidRequestWritesNothing(t *testing.T) {
	pg.Reset(t)
	c := newCoordinator(nil)

	req := request(uuid.New(), "bad")
	req.Title = ""
	_, err := c.Publish(context.Background(), req)
	require.ErrorIs(t, err, publish.ErrValidation)

	assert.EqualValues(t, 0, pg.Count(t, `SELECT count(*) FROM idempotency`))
}
