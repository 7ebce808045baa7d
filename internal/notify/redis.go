package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis fans announcements out over a Redis pub/sub channel so workers in
// other processes wake up.
type Redis struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

// NewRedis creates a Redis notifier on channel.
func NewRedis(client *redis.Client, channel string, log zerolog.Logger) *Redis {
	return &Redis{
		client:  client,
		channel: channel,
		log:     log.With().Str("component", "notify").Str("channel", channel).Logger(),
	}
}

// Publish sends the issue id on the channel.
func (r *Redis) Publish(ctx context.Context, issueID uuid.UUID) error {
	if err := r.client.Publish(ctx, r.channel, issueID.String()).Err(); err != nil {
		return fmt.Errorf("publish wake-up for issue %s: %w", issueID, err)
	}
	return nil
}

// Listen subscribes to the channel. The subscription is torn down and the
// returned channel closed when ctx is done.
func (r *Redis) Listen(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := r.client.Subscribe(ctx, r.channel)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				r.log.Debug().Str("issue_id", msg.Payload).Msg("wake-up received")
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
