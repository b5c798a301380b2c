package memory

import (
	"fmt"
	"testing"
	"time"
)

func testCache(t *testing.T, opts CacheOptions) *Cache {
	t.Helper()
	return NewCache(testDB(t), opts)
}

func TestCache_SetGet(t *testing.T) {
	c := testCache(t, CacheOptions{})

	key := Fingerprint(CacheToolOutput, map[string]any{"tool": "analyzer", "part": "blade-7"})
	if err := c.Set(key, CacheToolOutput, []byte(`{"stress": 410}`), 0, []string{"blade-7"}, "t1", "u1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	value, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(value) != `{"stress": 410}` {
		t.Errorf("unexpected value: %s", value)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestCache_Fingerprint(t *testing.T) {
	a := Fingerprint(CachePromptResponse, map[string]any{"prompt": "x", "model": "m"})
	b := Fingerprint(CachePromptResponse, map[string]any{"model": "m", "prompt": "x"})
	if a != b {
		t.Error("fingerprint must be independent of map order")
	}

	c := Fingerprint(CachePromptResponse, map[string]any{"prompt": "y", "model": "m"})
	if a == c {
		t.Error("different params must fingerprint differently")
	}

	d := Fingerprint(CacheToolOutput, map[string]any{"prompt": "x", "model": "m"})
	if a == d {
		t.Error("different types must fingerprint differently")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := testCache(t, CacheOptions{})

	if err := c.Set("short", CacheToolOutput, []byte("v"), 10*time.Millisecond, nil, "", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set("unread", CacheToolOutput, []byte("v"), 10*time.Millisecond, nil, "", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := c.Get("short"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Error("expected miss after TTL expiry")
	}

	// The expired read removed its own row; only the never-read entry
	// is left for the sweeper.
	removed, err := c.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected sweep to remove 1 entry, got %d", removed)
	}
}

func TestCache_ExpiredWarmReadRemovesEntry(t *testing.T) {
	c := testCache(t, CacheOptions{HotCapacity: 1})

	if err := c.Set("old", CacheToolOutput, []byte("v"), 10*time.Millisecond, nil, "", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	// A second entry evicts "old" from the hot tier, leaving it warm-only.
	if err := c.Set("fresh", CacheToolOutput, []byte("v"), 10*time.Millisecond, nil, "", ""); err != nil {
		t.Fatalf("set: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("old"); ok {
		t.Error("expected miss for expired warm entry")
	}

	// The expired warm read deleted its row, so only "fresh" remains.
	removed, err := c.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 entry left for the sweeper, got %d", removed)
	}
}

func TestCache_RejectsOversized(t *testing.T) {
	c := testCache(t, CacheOptions{MaxItemBytes: 8})

	if err := c.Set("big", CacheToolOutput, []byte("123456789"), 0, nil, "", ""); err == nil {
		t.Error("expected oversized payload to be rejected")
	}
	if err := c.Set("ok", CacheToolOutput, []byte("1234"), 0, nil, "", ""); err != nil {
		t.Errorf("small payload should be accepted: %v", err)
	}
}

func TestCache_WarmPromotion(t *testing.T) {
	c := testCache(t, CacheOptions{HotCapacity: 2})

	// Filling past hot capacity pushes the oldest entry out of the hot
	// tier, but it must still be servable from the warm tier.
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		if err := c.Set(key, CacheToolOutput, []byte(key), 0, nil, "", ""); err != nil {
			t.Fatalf("set: %v", err)
		}
	}

	stats := c.Stats()
	if stats.HotEntries != 2 {
		t.Errorf("expected hot tier capped at 2, got %d", stats.HotEntries)
	}

	value, ok := c.Get("k0")
	if !ok || string(value) != "k0" {
		t.Fatalf("expected warm-tier hit for evicted hot entry, got ok=%v", ok)
	}
}

func TestCache_Invalidation(t *testing.T) {
	c := testCache(t, CacheOptions{})

	entries := []struct {
		key    string
		typ    string
		tags   []string
		tenant string
	}{
		{"a", CachePromptResponse, []string{"proj-x"}, "t1"},
		{"b", CacheToolOutput, []string{"proj-x"}, "t1"},
		{"c", CacheToolOutput, nil, "t2"},
	}
	for _, e := range entries {
		if err := c.Set(e.key, e.typ, []byte("v"), 0, e.tags, e.tenant, ""); err != nil {
			t.Fatalf("set %s: %v", e.key, err)
		}
	}

	if err := c.InvalidateTag("proj-x"); err != nil {
		t.Fatalf("invalidate tag: %v", err)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("tagged entry a should be gone")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("tagged entry b should be gone")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("untagged entry c should survive")
	}

	if err := c.InvalidateTenant("t2"); err != nil {
		t.Fatalf("invalidate tenant: %v", err)
	}
	if _, ok := c.Get("c"); ok {
		t.Error("tenant entry c should be gone")
	}
}

func TestCache_InvalidateType(t *testing.T) {
	c := testCache(t, CacheOptions{})

	if err := c.Set("p", CachePromptResponse, []byte("v"), 0, nil, "", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set("t", CacheToolOutput, []byte("v"), 0, nil, "", ""); err != nil {
		t.Fatalf("set: %v", err)
	}

	if err := c.InvalidateType(CachePromptResponse); err != nil {
		t.Fatalf("invalidate type: %v", err)
	}
	if _, ok := c.Get("p"); ok {
		t.Error("prompt_response entry should be gone")
	}
	if _, ok := c.Get("t"); !ok {
		t.Error("tool_output entry should survive")
	}
}

func TestCache_HitCountPersists(t *testing.T) {
	c := testCache(t, CacheOptions{HotCapacity: 1})

	if err := c.Set("x", CacheToolOutput, []byte("v"), 0, nil, "", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	// Push x out of the hot tier so the next read goes warm.
	if err := c.Set("y", CacheToolOutput, []byte("v"), 0, nil, "", ""); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, ok := c.Get("x"); !ok {
		t.Fatal("expected warm hit")
	}
	entry, err := NewCache(c.db, CacheOptions{}).loadWarm("x")
	if err != nil || entry == nil {
		t.Fatalf("load warm: %v", err)
	}
	if entry.HitCount != 1 {
		t.Errorf("expected persisted hit count 1, got %d", entry.HitCount)
	}
}
