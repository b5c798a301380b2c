package memory

import (
	"container/list"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/originflow/conductor/internal/store"
)

// Cache entry types, each with its own default TTL.
const (
	CachePromptResponse     = "prompt_response"
	CacheEmbedding          = "embedding"
	CacheToolOutput         = "tool_output"
	CacheSimulationResult   = "simulation_result"
	CacheKnowledgeRetrieval = "knowledge_retrieval"
	CacheAgentPlan          = "agent_plan"
)

// defaultTTLs maps entry types to their time-to-live. Unknown types get
// the prompt_response TTL.
var defaultTTLs = map[string]time.Duration{
	CachePromptResponse:     time.Hour,
	CacheEmbedding:          24 * time.Hour,
	CacheToolOutput:         15 * time.Minute,
	CacheSimulationResult:   6 * time.Hour,
	CacheKnowledgeRetrieval: 30 * time.Minute,
	CacheAgentPlan:          time.Hour,
}

// CacheEntry is one cached payload with its bookkeeping fields.
type CacheEntry struct {
	Key        string    `json:"key"`
	Type       string    `json:"type"`
	Value      []byte    `json:"value"`
	SizeBytes  int64     `json:"size_bytes"`
	Tags       []string  `json:"tags,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	HitCount   int       `json:"hit_count"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the entry's TTL has elapsed.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CacheStats counts hits and misses since creation.
type CacheStats struct {
	Hits       int64
	Misses     int64
	HotEntries int
	WarmBytes  int64
}

// CacheOptions tune the cache. Zero values fall back to defaults.
type CacheOptions struct {
	// MaxBytes is the warm-tier size ceiling. Eviction starts at 80% and
	// trims back to roughly 70%.
	MaxBytes int64
	// MaxItemBytes rejects individual payloads larger than this.
	MaxItemBytes int64
	// HotCapacity is the max entry count in the in-memory tier.
	HotCapacity int
}

// Cache is a two-tier cache: a small in-memory hot tier in front of a
// SQLite-backed warm tier. Keys are content fingerprints so identical
// requests hit the same entry.
type Cache struct {
	db   *store.DB
	opts CacheOptions

	mu      sync.Mutex
	hot     map[string]*list.Element
	lru     *list.List // front = most recent
	hits    int64
	misses  int64
	evictMu sync.Mutex
}

// NewCache creates a cache over the given database.
func NewCache(db *store.DB, opts CacheOptions) *Cache {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 256 << 20
	}
	if opts.MaxItemBytes <= 0 {
		opts.MaxItemBytes = 4 << 20
	}
	if opts.HotCapacity <= 0 {
		opts.HotCapacity = 1024
	}
	return &Cache{
		db:   db,
		opts: opts,
		hot:  make(map[string]*list.Element),
		lru:  list.New(),
	}
}

// Fingerprint derives a stable cache key from an entry type and its
// request parameters. Map iteration order does not affect the key.
func Fingerprint(entryType string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(entryType))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		b, _ := json.Marshal(params[k])
		h.Write(b)
	}
	return entryType + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Get returns the cached value for a key, checking the hot tier first
// and promoting warm hits. A miss or expired entry returns ok=false.
func (c *Cache) Get(key string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	if elem, ok := c.hot[key]; ok {
		entry := elem.Value.(*CacheEntry)
		if entry.Expired(now) {
			c.lru.Remove(elem)
			delete(c.hot, key)
		} else {
			entry.HitCount++
			entry.AccessedAt = now
			c.lru.MoveToFront(elem)
			c.hits++
			value := entry.Value
			c.mu.Unlock()
			return value, true
		}
	}
	c.mu.Unlock()

	entry, err := c.loadWarm(key)
	if err != nil || entry == nil || entry.Expired(now) {
		if entry != nil && entry.Expired(now) {
			// Expired reads remove the entry rather than leaving it for
			// the sweeper.
			_, _ = c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		}
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	entry.HitCount++
	entry.AccessedAt = now
	_, _ = c.db.Exec(`UPDATE cache_entries SET hit_count = hit_count + 1, accessed_at = ? WHERE key = ?`,
		store.FormatTime(now), key)

	c.mu.Lock()
	c.hits++
	c.promote(entry)
	c.mu.Unlock()
	return entry.Value, true
}

// Set stores a value under a key. Oversized payloads are rejected. The
// TTL defaults by entry type; a positive ttl overrides it.
func (c *Cache) Set(key, entryType string, value []byte, ttl time.Duration, tags []string, tenantID, userID string) error {
	size := int64(len(value))
	if size > c.opts.MaxItemBytes {
		return fmt.Errorf("cache item %d bytes exceeds limit %d", size, c.opts.MaxItemBytes)
	}
	if ttl <= 0 {
		var ok bool
		if ttl, ok = defaultTTLs[entryType]; !ok {
			ttl = defaultTTLs[CachePromptResponse]
		}
	}

	now := time.Now()
	entry := &CacheEntry{
		Key:        key,
		Type:       entryType,
		Value:      value,
		SizeBytes:  size,
		Tags:       tags,
		TenantID:   tenantID,
		UserID:     userID,
		CreatedAt:  now,
		AccessedAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	_, err := c.db.Exec(`
		INSERT INTO cache_entries (key, type, value, size_bytes, tags, tenant_id, user_id, hit_count, created_at, accessed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			type=excluded.type, value=excluded.value, size_bytes=excluded.size_bytes,
			tags=excluded.tags, tenant_id=excluded.tenant_id, user_id=excluded.user_id,
			accessed_at=excluded.accessed_at, expires_at=excluded.expires_at
	`, key, entryType, value, size, strings.Join(tags, ","),
		store.NullString(tenantID), store.NullString(userID),
		store.FormatTime(now), store.FormatTime(now), store.FormatTime(entry.ExpiresAt))
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}

	c.mu.Lock()
	c.promote(entry)
	c.mu.Unlock()

	go c.maybeEvict()
	return nil
}

// Invalidate removes a single entry from both tiers.
func (c *Cache) Invalidate(key string) error {
	c.mu.Lock()
	if elem, ok := c.hot[key]; ok {
		c.lru.Remove(elem)
		delete(c.hot, key)
	}
	c.mu.Unlock()

	_, err := c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// InvalidateType removes all entries of a type.
func (c *Cache) InvalidateType(entryType string) error {
	c.dropHot(func(e *CacheEntry) bool { return e.Type == entryType })
	_, err := c.db.Exec(`DELETE FROM cache_entries WHERE type = ?`, entryType)
	if err != nil {
		return fmt.Errorf("cache invalidate type: %w", err)
	}
	return nil
}

// InvalidateTag removes all entries carrying a tag.
func (c *Cache) InvalidateTag(tag string) error {
	c.dropHot(func(e *CacheEntry) bool { return contains(e.Tags, tag) })

	// Tags are stored comma-joined; match exactly, not as substring.
	_, err := c.db.Exec(`
		DELETE FROM cache_entries
		WHERE ',' || COALESCE(tags,'') || ',' LIKE '%,' || ? || ',%'
	`, tag)
	if err != nil {
		return fmt.Errorf("cache invalidate tag: %w", err)
	}
	return nil
}

// InvalidateTenant removes all entries belonging to a tenant.
func (c *Cache) InvalidateTenant(tenantID string) error {
	c.dropHot(func(e *CacheEntry) bool { return e.TenantID == tenantID })
	_, err := c.db.Exec(`DELETE FROM cache_entries WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return fmt.Errorf("cache invalidate tenant: %w", err)
	}
	return nil
}

// Sweep removes expired entries from both tiers. Returns entries removed
// from the warm tier.
func (c *Cache) Sweep() (int64, error) {
	now := time.Now()
	c.dropHot(func(e *CacheEntry) bool { return e.Expired(now) })

	result, err := c.db.Exec(`DELETE FROM cache_entries WHERE expires_at < ?`, store.FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

// RunSweeper runs the expiry sweep on an interval until done is closed.
func (c *Cache) RunSweeper(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, err := c.Sweep(); err != nil {
				debugLog("cache sweep failed: %v", err)
			}
		}
	}
}

// Stats returns hit/miss counters and tier sizes.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	stats := CacheStats{
		Hits:       c.hits,
		Misses:     c.misses,
		HotEntries: len(c.hot),
	}
	c.mu.Unlock()

	row := c.db.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entries`)
	_ = row.Scan(&stats.WarmBytes)
	return stats
}

// promote inserts an entry into the hot tier, evicting the LRU entry
// from the tier (not the warm store) at capacity. Caller holds c.mu.
func (c *Cache) promote(entry *CacheEntry) {
	if elem, ok := c.hot[entry.Key]; ok {
		elem.Value = entry
		c.lru.MoveToFront(elem)
		return
	}
	for c.lru.Len() >= c.opts.HotCapacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.hot, oldest.Value.(*CacheEntry).Key)
	}
	c.hot[entry.Key] = c.lru.PushFront(entry)
}

// dropHot removes hot-tier entries matching the predicate.
func (c *Cache) dropHot(match func(*CacheEntry) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*CacheEntry)
		if match(entry) {
			c.lru.Remove(elem)
			delete(c.hot, entry.Key)
		}
		elem = next
	}
}

// maybeEvict trims the warm tier back to ~70% of the ceiling once total
// size crosses 80%. Least recently accessed entries go first.
func (c *Cache) maybeEvict() {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	var total int64
	row := c.db.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entries`)
	if err := row.Scan(&total); err != nil {
		return
	}
	highWater := c.opts.MaxBytes * 8 / 10
	if total <= highWater {
		return
	}
	target := c.opts.MaxBytes * 7 / 10

	rows, err := c.db.Query(`SELECT key, size_bytes FROM cache_entries ORDER BY accessed_at ASC`)
	if err != nil {
		return
	}
	var victims []string
	for rows.Next() {
		var (
			key  string
			size int64
		)
		if err := rows.Scan(&key, &size); err != nil {
			break
		}
		victims = append(victims, key)
		total -= size
		if total <= target {
			break
		}
	}
	rows.Close()

	for _, key := range victims {
		if err := c.Invalidate(key); err != nil {
			debugLog("cache eviction failed for %s: %v", key, err)
		}
	}
}

// loadWarm reads one entry from the warm tier, or nil if absent.
func (c *Cache) loadWarm(key string) (*CacheEntry, error) {
	row := c.db.QueryRow(`
		SELECT key, type, value, size_bytes, COALESCE(tags,''), COALESCE(tenant_id,''), COALESCE(user_id,''),
			hit_count, created_at, accessed_at, expires_at
		FROM cache_entries WHERE key = ?
	`, key)

	var (
		entry         CacheEntry
		tags          string
		createdAtStr  string
		accessedAtStr string
		expiresAtStr  string
	)
	err := row.Scan(&entry.Key, &entry.Type, &entry.Value, &entry.SizeBytes, &tags,
		&entry.TenantID, &entry.UserID, &entry.HitCount, &createdAtStr, &accessedAtStr, &expiresAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache load: %w", err)
	}
	entry.Tags = splitList(tags)
	if t, err := store.ParseTime(createdAtStr); err == nil {
		entry.CreatedAt = t
	}
	if t, err := store.ParseTime(accessedAtStr); err == nil {
		entry.AccessedAt = t
	}
	if t, err := store.ParseTime(expiresAtStr); err == nil {
		entry.ExpiresAt = t
	}
	return &entry, nil
}
