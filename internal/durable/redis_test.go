package durable

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisAvailable(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:6379",
		DialTimeout: 100 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisKV_GetSetDelete(t *testing.T) {
	client := redisAvailable(t)
	ctx := context.Background()
	kv := NewRedisKV(client, time.Minute)
	key := "cachelayer:test:kv"
	defer client.Del(ctx, key)

	if _, ok, err := kv.Get(ctx, key); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := kv.Set(ctx, key, []byte("payload")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := kv.Get(ctx, key)
	if err != nil || !ok || string(got) != "payload" {
		t.Fatalf("Get: %q ok=%v err=%v", got, ok, err)
	}
	if ttl := client.PTTL(ctx, key).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected key ttl within a minute, got %v", ttl)
	}
	if err := kv.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, key); ok {
		t.Error("expected miss after delete")
	}
}

func TestRedisKV_ThroughAdapter(t *testing.T) {
	client := redisAvailable(t)
	ctx := context.Background()
	prefix := "cachelayer:test:adapter:"
	defer client.Del(ctx, prefix+"k")

	a, err := New(NewRedisKV(client, 0), Config{Prefix: prefix, TTL: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Set(ctx, "k", map[string]string{"status": "ok"}, 0)

	var got map[string]string
	if !a.Get(ctx, "k", &got) || got["status"] != "ok" {
		t.Fatalf("expected round trip through redis, got %v", got)
	}
}

func TestConnectRedis_GivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := ConnectRedis(ctx, RedisConfig{Address: "127.0.0.1:1"}, 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected connection to an unused port to fail")
	}
}
