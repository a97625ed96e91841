package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/db"
)

// testClock is a settable clock safe for the background refresh goroutine.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, defaults Config) (*Store, *testClock) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	repo := db.NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })

	clock := &testClock{now: time.Now()}
	s := New(repo, defaults)
	s.now = clock.Now
	return s, clock
}

// countingFetch returns a FetchFunc that counts invocations and returns
// the supplied value or error.
func countingFetch(calls *atomic.Int32, value interface{}, err error) FetchFunc {
	return func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		if err != nil {
			return nil, err
		}
		return value, nil
	}
}

// TestKeyDeterministic verifies parameter order does not change the key
// and distinct inputs do.
func TestKeyDeterministic(t *testing.T) {
	a := Key("/rest/v1/work_orders", map[string]string{"tech": "t1", "status": "open"})
	b := Key("/rest/v1/work_orders", map[string]string{"status": "open", "tech": "t1"})
	if a != b {
		t.Errorf("same params in different order produced different keys: %s vs %s", a, b)
	}

	c := Key("/rest/v1/work_orders", map[string]string{"status": "closed", "tech": "t1"})
	if a == c {
		t.Error("different params produced the same key")
	}
	d := Key("/rest/v1/service_steps", map[string]string{"status": "open", "tech": "t1"})
	if a == d {
		t.Error("different endpoints produced the same key")
	}
}

// TestFreshHit verifies a fresh entry is served from cache with no fetch.
func TestFreshHit(t *testing.T) {
	s, _ := newTestStore(t, Config{TTL: time.Minute, SyncInterval: 30 * time.Second})
	ctx := context.Background()
	params := map[string]string{"id": "wo-1"}

	var calls atomic.Int32
	raw, fromCache, err := s.GetWithFallback(ctx, "/work_orders", params, countingFetch(&calls, []string{"a", "b"}, nil), nil)
	if err != nil {
		t.Fatalf("GetWithFallback() failed: %v", err)
	}
	if fromCache {
		t.Error("first read reported fromCache = true")
	}
	if calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls.Load())
	}

	raw2, fromCache, err := s.GetWithFallback(ctx, "/work_orders", params, countingFetch(&calls, nil, errors.New("must not be called")), nil)
	if err != nil {
		t.Fatalf("second GetWithFallback() failed: %v", err)
	}
	if !fromCache {
		t.Error("fresh entry was not served from cache")
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1 (no refetch within windows)", calls.Load())
	}
	if string(raw) != string(raw2) {
		t.Errorf("cached bytes differ: %s vs %s", raw, raw2)
	}
}

// TestStaleServesAndRefreshes verifies the stale-while-revalidate path:
// the caller gets the old data immediately and the background refresh
// replaces it.
func TestStaleServesAndRefreshes(t *testing.T) {
	s, clock := newTestStore(t, Config{TTL: 500 * time.Millisecond, SyncInterval: 100 * time.Millisecond})
	ctx := context.Background()
	params := map[string]string{"id": "wo-1"}

	if err := s.Set(ctx, "/work_orders", params, "v1"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	// Past the staleness window, inside the validity window.
	clock.Advance(150 * time.Millisecond)

	var calls atomic.Int32
	raw, fromCache, err := s.GetWithFallback(ctx, "/work_orders", params, countingFetch(&calls, "v2", nil), nil)
	if err != nil {
		t.Fatalf("GetWithFallback() failed: %v", err)
	}
	if !fromCache || string(raw) != `"v1"` {
		t.Errorf("stale read = %s fromCache=%v, want old value from cache", raw, fromCache)
	}

	s.wg.Wait()
	if calls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", calls.Load())
	}

	entry, err := s.Get(ctx, "/work_orders", params)
	if err != nil || entry == nil {
		t.Fatalf("Get() after refresh = %v, %v", entry, err)
	}
	if string(entry.Data) != `"v2"` {
		t.Errorf("data after refresh = %s, want refreshed value", entry.Data)
	}
}

// TestExpiredFetchesSynchronously verifies an entry past its validity
// window forces a blocking fetch.
func TestExpiredFetchesSynchronously(t *testing.T) {
	s, clock := newTestStore(t, Config{TTL: 500 * time.Millisecond, SyncInterval: 100 * time.Millisecond})
	ctx := context.Background()
	params := map[string]string{"id": "wo-1"}

	if err := s.Set(ctx, "/work_orders", params, "v1"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	clock.Advance(600 * time.Millisecond)

	var calls atomic.Int32
	raw, fromCache, err := s.GetWithFallback(ctx, "/work_orders", params, countingFetch(&calls, "v2", nil), nil)
	if err != nil {
		t.Fatalf("GetWithFallback() failed: %v", err)
	}
	if fromCache {
		t.Error("expired entry was served from cache")
	}
	if string(raw) != `"v2"` || calls.Load() != 1 {
		t.Errorf("read = %s, calls = %d, want fresh value from one fetch", raw, calls.Load())
	}
}

// TestFailedRefreshKeepsData verifies a failed background refresh leaves
// the cached data intact and pushes the staleness stamp forward so the
// very next read does not re-trigger a refresh.
func TestFailedRefreshKeepsData(t *testing.T) {
	s, clock := newTestStore(t, Config{TTL: time.Minute, SyncInterval: 100 * time.Millisecond})
	ctx := context.Background()
	params := map[string]string{"id": "wo-1"}

	if err := s.Set(ctx, "/work_orders", params, "v1"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	clock.Advance(150 * time.Millisecond)

	var calls atomic.Int32
	raw, _, err := s.GetWithFallback(ctx, "/work_orders", params, countingFetch(&calls, nil, errors.New("backend down")), nil)
	if err != nil {
		t.Fatalf("GetWithFallback() failed: %v", err)
	}
	if string(raw) != `"v1"` {
		t.Errorf("stale read = %s, want cached value", raw)
	}
	s.wg.Wait()
	if calls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", calls.Load())
	}

	// Staleness was stamped at the failure, so this read stays quiet.
	raw, fromCache, err := s.GetWithFallback(ctx, "/work_orders", params, countingFetch(&calls, nil, errors.New("backend down")), nil)
	if err != nil {
		t.Fatalf("second GetWithFallback() failed: %v", err)
	}
	s.wg.Wait()
	if !fromCache || string(raw) != `"v1"` {
		t.Errorf("read after failed refresh = %s fromCache=%v, want cached value", raw, fromCache)
	}
	if calls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1 (failure suppresses immediate retry)", calls.Load())
	}
}

// TestMissFetchFailure verifies a cold miss with a failing fetch is an
// error, not an empty success.
func TestMissFetchFailure(t *testing.T) {
	s, _ := newTestStore(t, Config{TTL: time.Minute, SyncInterval: 30 * time.Second})

	var calls atomic.Int32
	_, _, err := s.GetWithFallback(context.Background(), "/work_orders", nil, countingFetch(&calls, nil, errors.New("offline")), nil)
	if err == nil {
		t.Fatal("cold miss with failing fetch returned nil error")
	}
}

// TestInvalidateAndClearAll verifies targeted and prefix invalidation.
func TestInvalidateAndClearAll(t *testing.T) {
	s, _ := newTestStore(t, Config{TTL: time.Minute, SyncInterval: 30 * time.Second})
	ctx := context.Background()

	if err := s.Set(ctx, "/work_orders", map[string]string{"id": "wo-1"}, "a"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "/work_orders", map[string]string{"id": "wo-2"}, "b"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "/service_steps", map[string]string{"id": "wo-1"}, "c"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := s.Invalidate(ctx, "/work_orders", map[string]string{"id": "wo-1"}); err != nil {
		t.Fatalf("Invalidate() failed: %v", err)
	}
	entry, err := s.Get(ctx, "/work_orders", map[string]string{"id": "wo-1"})
	if err != nil || entry != nil {
		t.Errorf("Get() after invalidate = %v, %v, want miss", entry, err)
	}

	n, err := s.ClearAll(ctx, "/work_orders")
	if err != nil {
		t.Fatalf("ClearAll() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared = %d, want 1 remaining /work_orders entry", n)
	}

	entry, err = s.Get(ctx, "/service_steps", map[string]string{"id": "wo-1"})
	if err != nil || entry == nil {
		t.Errorf("entry outside the prefix was cleared: %v, %v", entry, err)
	}

	n, err = s.ClearAll(ctx, "")
	if err != nil {
		t.Fatalf("ClearAll(all) failed: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared = %d, want the final entry", n)
	}
}

// TestDecode verifies the typed helper round trip.
func TestDecode(t *testing.T) {
	s, _ := newTestStore(t, Config{TTL: time.Minute, SyncInterval: 30 * time.Second})
	ctx := context.Background()

	type workOrder struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := s.Set(ctx, "/work_orders", nil, []workOrder{{ID: "wo-1", Title: "pump check"}}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	entry, err := s.Get(ctx, "/work_orders", nil)
	if err != nil || entry == nil {
		t.Fatalf("Get() = %v, %v", entry, err)
	}
	orders, err := Decode[[]workOrder](entry.Data)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "wo-1" {
		t.Errorf("decoded = %+v, want one work order wo-1", orders)
	}
}
