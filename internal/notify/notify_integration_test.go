//go:build integration
// +build integration

package notify

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"workqueue/internal/log"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupTestRedis(ctx context.Context) (string, func(), error) {
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		return addr, func() {}, nil
	}
	redisContainer, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7"))
	if err != nil {
		return "", nil, fmt.Errorf("failed to start redis container: %w", err)
	}
	redisAddr, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		return "", nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}
	cleanup := func() {
		redisContainer.Terminate(ctx)
	}
	return redisAddr, cleanup, nil
}

func TestPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, cleanup, err := setupTestRedis(ctx)
	if err != nil {
		t.Fatalf("setup redis failed: %s", err)
	}
	defer cleanup()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping failed: %s", err)
	}

	n := NewNotifier(client, log.NewNop())
	hints := n.Subscribe(ctx)
	time.Sleep(100 * time.Millisecond) // subscription must attach before publish

	n.Publish(ctx, "orders.create")

	select {
	case rk := <-hints:
		if rk != "orders.create" {
			t.Errorf("hint carried routing key %q", rk)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("hint never delivered")
	}
}
