package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func caches(t *testing.T) (map[string]Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client, err := Dial(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return map[string]Cache{
		"memory": NewInMemoryCache(time.Minute, time.Minute),
		"redis":  NewRedisCache(client, "test"),
	}, mr
}

func TestCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	all, _ := caches(t)

	for name, c := range all {
		t.Run(name, func(t *testing.T) {
			if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}

			type entry struct {
				ID string `json:"id"`
			}
			if err := SetJSON(ctx, c, "k", []entry{{ID: "a"}}, time.Minute); err != nil {
				t.Fatalf("SetJSON failed: %v", err)
			}
			var got []entry
			if err := GetJSON(ctx, c, "k", &got); err != nil {
				t.Fatalf("GetJSON failed: %v", err)
			}
			if len(got) != 1 || got[0].ID != "a" {
				t.Errorf("Unexpected value %+v", got)
			}

			if err := c.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestRedisCache_ClearKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisCache(client, "catalog")
	if err := c.Set(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	mr.Set("promotion:P1:usage", "keep")

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if mr.Exists("catalog:a") {
		t.Error("Expected cache key to be cleared")
	}
	if !mr.Exists("promotion:P1:usage") {
		t.Error("Expected keys outside the cache prefix to survive Clear")
	}
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisCache(client, "")
	if err := c.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected expired entry, got %v", err)
	}
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := Dial(ctx, "127.0.0.1:1", "", 0); err == nil {
		t.Error("Expected error dialing a closed port")
	}
}
