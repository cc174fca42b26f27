// Package notify carries enqueue hints between producers and workers over
// Redis pub/sub. Hints only shorten worker poll latency; every claim is still
// arbitrated by the database, so a lost or duplicated hint is harmless.
package notify

import (
	"context"

	"workqueue/internal/log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channel = "workqueue:enqueued"

type Notifier struct {
	client *redis.Client
	logger *log.Logger
}

func NewNotifier(client *redis.Client, logger *log.Logger) *Notifier {
	return &Notifier{client: client, logger: logger}
}

// Publish announces that an item with the given routing key became eligible.
// Failures are logged and swallowed: workers will find the item on their next
// poll tick anyway.
func (n *Notifier) Publish(ctx context.Context, routingKey string) {
	if n == nil || n.client == nil {
		return
	}
	if err := n.client.Publish(ctx, channel, routingKey).Err(); err != nil {
		n.logger.Warn("Failed to publish enqueue hint", zap.Error(err), zap.String("routing_key", routingKey))
	}
}

// Subscribe returns a channel of routing keys announced by producers. The
// channel closes when ctx is done.
func (n *Notifier) Subscribe(ctx context.Context) <-chan string {
	out := make(chan string, 16)
	if n == nil || n.client == nil {
		close(out)
		return out
	}
	sub := n.client.Subscribe(ctx, channel)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					// worker is already awake; dropping the hint is fine
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
