package permcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/meridianhq/meridian/internal/testdb"
	"github.com/meridianhq/meridian/pkg/model"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache, err := NewCache(NewStore(testdb.New(t)), client, 16, time.Minute)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	return cache, mr
}

func TestCacheReadThrough(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	row, err := cache.Get(ctx, 1, "widget")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if row != nil {
		t.Fatal("expected no row")
	}

	if err := cache.Put(ctx, &model.InstancePermission{
		AccountID: 1, ModelName: "widget", ReadUIDs: []string{"a"}, WriteUIDs: []string{"a"},
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	row, err = cache.Get(ctx, 1, "widget")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if row == nil || !row.CanRead("a") {
		t.Fatalf("unexpected row: %+v", row)
	}

	// The read populated Redis.
	if !mr.Exists("perm:1:widget") {
		t.Error("expected redis key after read-through")
	}
}

func TestPutInvalidates(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	if err := cache.Put(ctx, &model.InstancePermission{
		AccountID: 1, ModelName: "widget", ReadUIDs: []string{"a"},
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := cache.Get(ctx, 1, "widget"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// A write must drop both layers so the next read sees the new sets.
	if err := cache.Put(ctx, &model.InstancePermission{
		AccountID: 1, ModelName: "widget", ReadUIDs: []string{"b"},
	}); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if mr.Exists("perm:1:widget") {
		t.Error("expected redis key invalidated by write")
	}

	row, err := cache.Get(ctx, 1, "widget")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !row.CanRead("b") || row.CanRead("a") {
		t.Errorf("stale row served after write: %+v", row)
	}
}

func TestCorruptRedisEntryFallsBack(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	if err := cache.Store().Upsert(ctx, &model.InstancePermission{
		AccountID: 1, ModelName: "widget", ReadUIDs: []string{"a"},
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	mr.Set("perm:1:widget", "not json")

	row, err := cache.Get(ctx, 1, "widget")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if row == nil || !row.CanRead("a") {
		t.Errorf("expected store fallback past corrupt entry, got %+v", row)
	}
}

func TestDropAccount(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	for _, name := range []string{"widget", "gadget"} {
		if err := cache.Put(ctx, &model.InstancePermission{
			AccountID: 1, ModelName: name, ReadUIDs: []string{"a"},
		}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if err := cache.DropAccount(ctx, 1, []string{"widget", "gadget"}); err != nil {
		t.Fatalf("DropAccount failed: %v", err)
	}
	for _, name := range []string{"widget", "gadget"} {
		row, err := cache.Get(ctx, 1, name)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if row != nil {
			t.Errorf("expected %s row dropped", name)
		}
	}
}

func TestConcurrentMissesShareOneFill(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	if err := cache.Store().Upsert(ctx, &model.InstancePermission{
		AccountID: 1, ModelName: "widget", ReadUIDs: []string{"a"},
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	var wg sync.WaitGroup
	rows := make([]*model.InstancePermission, 8)
	errs := make([]error, 8)
	for i := range rows {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rows[i], errs[i] = cache.Get(ctx, 1, "widget")
		}(i)
	}
	wg.Wait()

	for i := range rows {
		if errs[i] != nil {
			t.Fatalf("Get %d failed: %v", i, errs[i])
		}
		if rows[i] == nil || !rows[i].CanRead("a") {
			t.Errorf("Get %d returned %+v", i, rows[i])
		}
	}
}

func TestCacheWithoutRedis(t *testing.T) {
	cache, err := NewCache(NewStore(testdb.New(t)), nil, 16, time.Minute)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	ctx := context.Background()

	if err := cache.Put(ctx, &model.InstancePermission{
		AccountID: 1, ModelName: "widget", ReadUIDs: []string{"a"},
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	row, err := cache.Get(ctx, 1, "widget")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if row == nil || !row.CanRead("a") {
		t.Errorf("unexpected row: %+v", row)
	}
}
