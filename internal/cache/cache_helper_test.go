package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *CacheHelper) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewCacheHelper(client, "test:")
}

func TestCacheHelper_SetGet(t *testing.T) {
	_, helper := newTestCache(t)
	ctx := context.Background()

	type record struct {
		ID   uint   `json:"id"`
		Name string `json:"name"`
	}

	if err := helper.Set(ctx, "record:1", record{ID: 1, Name: "algebra"}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got record
	if err := helper.Get(ctx, "record:1", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != 1 || got.Name != "algebra" {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestCacheHelper_GetMissing(t *testing.T) {
	_, helper := newTestCache(t)

	var dest map[string]string
	err := helper.Get(context.Background(), "missing", &dest)
	if !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("expected ErrCacheNotFound, got %v", err)
	}
}

func TestCacheHelper_NilClientDegradesGracefully(t *testing.T) {
	helper := NewCacheHelper(nil, "test:")
	ctx := context.Background()

	if err := helper.Set(ctx, "key", "value", time.Minute); err != nil {
		t.Errorf("Set with nil client should be a no-op, got %v", err)
	}
	if err := helper.Delete(ctx, "key"); err != nil {
		t.Errorf("Delete with nil client should be a no-op, got %v", err)
	}

	var dest string
	if err := helper.Get(ctx, "key", &dest); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("expected ErrCacheNotAvailable, got %v", err)
	}
}

func TestCacheHelper_InvalidatePattern(t *testing.T) {
	mr, helper := newTestCache(t)
	ctx := context.Background()

	keys := []string{"session:1:a", "session:1:b", "session:2:a"}
	for _, key := range keys {
		if err := helper.Set(ctx, key, "v", time.Minute); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
	}

	if err := helper.InvalidatePattern(ctx, "session:1:*"); err != nil {
		t.Fatalf("InvalidatePattern failed: %v", err)
	}

	if mr.Exists("test:session:1:a") || mr.Exists("test:session:1:b") {
		t.Error("pattern keys should have been deleted")
	}
	if !mr.Exists("test:session:2:a") {
		t.Error("non-matching key should survive")
	}
}

func TestCacheHelper_CacheOrExecute(t *testing.T) {
	_, helper := newTestCache(t)
	ctx := context.Background()

	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return map[string]int{"score": 2}, nil
	}

	var first map[string]int
	if err := helper.CacheOrExecute(ctx, "score:1", &first, time.Minute, fetch); err != nil {
		t.Fatalf("CacheOrExecute failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}
	if first["score"] != 2 {
		t.Errorf("unexpected value: %+v", first)
	}

	// The async cache write may still be in flight; wait for the key.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		var cached map[string]int
		if err := helper.Get(ctx, "score:1", &cached); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	var second map[string]int
	if err := helper.CacheOrExecute(ctx, "score:1", &second, time.Minute, fetch); err != nil {
		t.Fatalf("CacheOrExecute (cached) failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected cached read, fetch ran %d times", calls)
	}
}

func TestCacheManager_NilClient(t *testing.T) {
	cm := NewCacheManager(nil)
	if err := cm.HealthCheck(context.Background()); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("expected ErrCacheNotAvailable, got %v", err)
	}
}
