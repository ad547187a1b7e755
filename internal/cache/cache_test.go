package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := testLocation()
	if err := c.Set(ctx, "ip:203.0.113.7", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "ip:203.0.113.7")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != val {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false for expired
// entries and removes them from cache on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "ip:203.0.113.7", testLocation(), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	now = now.Add(59 * time.Minute)
	if _, ok, _ := c.Get(ctx, "ip:203.0.113.7"); !ok {
		t.Fatal("Get() ok = false before TTL elapsed")
	}

	now = now.Add(2 * time.Minute)
	_, ok, err := c.Get(ctx, "ip:203.0.113.7")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expired entry removed", c.Len())
	}
}

// TestInMemoryCache_Overwrite verifies that Set replaces an existing entry.
func TestInMemoryCache_Overwrite(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	first := testLocation()
	second := first
	second.City = "Tacoma"
	_ = c.Set(ctx, "k", first, time.Minute)
	_ = c.Set(ctx, "k", second, time.Minute)

	got, ok, _ := c.Get(ctx, "k")
	if !ok || got.City != "Tacoma" {
		t.Errorf("Get() = %+v, %v; want Tacoma, true", got, ok)
	}
}

// TestInMemoryCache_Concurrent verifies concurrent Get and Set do not race.
func TestInMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("ip:198.51.100.%d", i%4)
			_ = c.Set(ctx, key, testLocation(), time.Minute)
			_, _, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
}

// TestParseAddrs verifies comma-separated memcached addresses are split and trimmed.
func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" a:11211, ,b:11211 ")
	if len(got) != 2 || got[0] != "a:11211" || got[1] != "b:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
	if got := parseAddrs(""); len(got) != 0 {
		t.Errorf("parseAddrs(\"\") = %v, want empty", got)
	}
}
