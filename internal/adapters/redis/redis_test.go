package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCache_Incr(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)
	cache := redisadapter.NewCache(client)
	if err := cache.Ping(ctx); err != nil {
		t.Fatal(err)
	}

	for want := int64(1); want <= 3; want++ {
		n, err := cache.Incr(ctx, "10.0.0.1", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Fatalf("expected %d, got %d", want, n)
		}
	}
	ttl, err := client.TTL(ctx, "rl:10.0.0.1").Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected window expiry, got %v", ttl)
	}
}

func TestIdempotency_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := redisadapter.NewIdempotency(startRedis(t))

	got, err := store.Get(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("expected miss, got %v, %v", got, err)
	}

	ok, err := store.Acquire(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected to acquire, got %v, %v", ok, err)
	}
	if ok, _ := store.Acquire(ctx, "k", time.Minute); ok {
		t.Fatal("second acquire must fail")
	}

	want := idempotency.Response{Status: 201, ContentType: "application/json", Body: []byte(`{"id":"b1"}`)}
	if err := store.Set(ctx, "k", want, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := store.Release(ctx, "k"); err != nil {
		t.Fatal(err)
	}

	got, err = store.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != 201 || string(got.Body) != string(want.Body) {
		t.Fatalf("unexpected response %+v", got)
	}
	if ok, _ := store.Acquire(ctx, "k", time.Minute); !ok {
		t.Fatal("expected lock to be free after release")
	}
}
