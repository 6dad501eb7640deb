package cache

import "testing"

func TestGetOrCreate(t *testing.T) {
	c := New[int, string](0)
	calls := 0
	create := func() string { calls++; return "v" }

	if got := c.GetOrCreate(1, create); got != "v" {
		t.Errorf("GetOrCreate() = %q, want v", got)
	}
	c.GetOrCreate(1, create)
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
	if v, ok := c.Get(1); !ok || v != "v" {
		t.Errorf("Get(1) = %q, %v", v, ok)
	}
	if _, ok := c.Get(2); ok {
		t.Error("Get(2) found a missing key")
	}

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 2 || s.Len != 1 {
		t.Errorf("Stats() = %+v, want 2 hits, 2 misses, 1 entry", s)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, int](4)
	for i := range 4 {
		c.GetOrCreate(i, func() int { return i })
	}
	// Touch 0 so it survives.
	c.Get(0)
	c.GetOrCreate(4, func() int { return 4 })

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	if _, ok := c.Get(0); !ok {
		t.Error("recently used key 0 was evicted")
	}
	if _, ok := c.Get(4); !ok {
		t.Error("newest key 4 was evicted")
	}
	if _, ok := c.Get(1); ok {
		t.Error("oldest key 1 survived eviction")
	}
	if got := c.Stats().Evictions; got != 2 {
		t.Errorf("Evictions = %d, want 2", got)
	}
}
