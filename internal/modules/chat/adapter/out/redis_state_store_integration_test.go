package out_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	chatadapter "medq/internal/modules/chat/adapter/out"
)

func TestRedisStateStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = client.Close() }()

	storeRoundTrip(t, chatadapter.NewRedisStateStore(client, "medq-test:"))

	if err := chatadapter.NewRedisStateStore(client, "medq-test:").Save(ctx, sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	selected, err := client.Get(ctx, "medq-test:selectedSessionId").Result()
	if err != nil {
		t.Fatalf("read selected key: %v", err)
	}
	if selected != "s-2" {
		t.Fatalf("unexpected selected id %q", selected)
	}
	other, err := chatadapter.NewRedisStateStore(client, "other:").Load(ctx)
	if err != nil {
		t.Fatalf("load other prefix: %v", err)
	}
	if len(other.Sessions) != 0 {
		t.Fatalf("prefixes must not share state, got %+v", other)
	}
}
