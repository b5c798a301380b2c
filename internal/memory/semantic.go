package memory

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/originflow/conductor/internal/store"
)

// KnowledgeItem is one curated fact or pattern in semantic memory.
type KnowledgeItem struct {
	// ID is the unique identifier for this item.
	ID string `json:"id"`
	// Type categorizes the item (fact, procedure, heuristic, ...).
	Type string `json:"type"`
	// Title is a short label.
	Title string `json:"title"`
	// Content is the knowledge payload.
	Content string `json:"content"`
	// Domain groups items by subject area.
	Domain string `json:"domain,omitempty"`
	// Tags support tag-based lookup.
	Tags []string `json:"tags,omitempty"`
	// Confidence is in [0,1], adjusted by usage feedback.
	Confidence float64 `json:"confidence"`
	// Source records where the knowledge came from.
	Source string `json:"source,omitempty"`
	// AccessCount is how many times retrieval returned the item.
	AccessCount int `json:"access_count"`
	// Embedding is the similarity vector, if one has been computed.
	Embedding []float32 `json:"-"`
	// CreatedAt is when the item was stored.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the item last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// KnowledgePattern is a learned condition-action rule.
type KnowledgePattern struct {
	// ID is the unique identifier for this pattern.
	ID string `json:"id"`
	// Condition is the WHEN part of the rule.
	Condition string `json:"condition"`
	// Action is the DO part of the rule.
	Action string `json:"action"`
	// Domain groups patterns by subject area.
	Domain string `json:"domain,omitempty"`
	// SuccessRate is a running weighted average of outcomes, in [0,1].
	SuccessRate float64 `json:"success_rate"`
	// UsageCount is how many executions contributed to the rate.
	UsageCount int `json:"usage_count"`
	// CreatedAt is when the pattern was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the pattern last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoredItem pairs a knowledge item with its retrieval score.
type ScoredItem struct {
	Item  KnowledgeItem
	Score float64
}

// SemanticStore holds knowledge items and learned patterns.
type SemanticStore struct {
	db       *store.DB
	embedder Embedder

	// pending tracks reinforcement counts for candidate patterns that
	// have not yet reached the creation threshold.
	mu      sync.Mutex
	pending map[string]*pendingPattern

	// minReinforcement is the executions required before a pattern is
	// created.
	minReinforcement int
}

// pendingPattern accumulates outcomes for a not-yet-created pattern.
type pendingPattern struct {
	condition string
	action    string
	domain    string
	successes int
	total     int
}

// NewSemanticStore creates a semantic store over the given database.
func NewSemanticStore(db *store.DB, embedder Embedder, minReinforcement int) *SemanticStore {
	if embedder == nil {
		embedder = &HashEmbedder{}
	}
	if minReinforcement < 1 {
		minReinforcement = 3
	}
	return &SemanticStore{
		db:               db,
		embedder:         embedder,
		pending:          make(map[string]*pendingPattern),
		minReinforcement: minReinforcement,
	}
}

// SaveItem stores a knowledge item, computing an embedding when absent.
// Saving an existing ID replaces the item.
func (s *SemanticStore) SaveItem(item KnowledgeItem) (string, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	item.Confidence = clamp01(item.Confidence)
	if len(item.Embedding) == 0 {
		item.Embedding = s.embedder.Embed(item.Title + " " + item.Content)
	}

	_, err := s.db.Exec(`
		INSERT INTO knowledge_items
			(id, type, title, content, domain, tags, confidence, source, access_count, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type=excluded.type, title=excluded.title, content=excluded.content,
			domain=excluded.domain, tags=excluded.tags, confidence=excluded.confidence,
			source=excluded.source, embedding=excluded.embedding, updated_at=excluded.updated_at
	`, item.ID, item.Type, item.Title, item.Content, store.NullString(item.Domain),
		strings.Join(item.Tags, ","), item.Confidence, store.NullString(item.Source),
		item.AccessCount, encodeVector(item.Embedding),
		store.FormatTime(item.CreatedAt), store.FormatTime(item.UpdatedAt))
	if err != nil {
		return "", fmt.Errorf("save knowledge item: %w", err)
	}
	return item.ID, nil
}

// GetItem loads one knowledge item by ID, or nil if absent.
func (s *SemanticStore) GetItem(id string) (*KnowledgeItem, error) {
	row := s.db.QueryRow(`
		SELECT id, type, title, content, COALESCE(domain,''), COALESCE(tags,''),
			confidence, COALESCE(source,''), access_count, embedding, created_at, updated_at
		FROM knowledge_items WHERE id = ?
	`, id)
	item, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge item: %w", err)
	}
	return item, nil
}

// Retrieve returns the topK items most relevant to the query. Relevance
// is embedding similarity scaled by confidence and a log-scaled access
// boost. Returned items have their access counts incremented.
func (s *SemanticStore) Retrieve(query string, topK int) ([]ScoredItem, error) {
	if topK <= 0 {
		topK = 5
	}
	queryVec := s.embedder.Embed(query)

	items, err := s.listItems(`SELECT id, type, title, content, COALESCE(domain,''), COALESCE(tags,''),
		confidence, COALESCE(source,''), access_count, embedding, created_at, updated_at
		FROM knowledge_items`)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredItem, 0, len(items))
	for _, item := range items {
		sim := cosineSimilarity(queryVec, item.Embedding)
		if sim <= 0 {
			continue
		}
		score := sim * item.Confidence * (1 + math.Log1p(float64(item.AccessCount))/10)
		scored = append(scored, ScoredItem{Item: item, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}

	for _, si := range scored {
		_, err := s.db.Exec(`UPDATE knowledge_items SET access_count = access_count + 1 WHERE id = ?`, si.Item.ID)
		if err != nil {
			return nil, fmt.Errorf("bump access count: %w", err)
		}
	}
	return scored, nil
}

// ItemsByTag returns items carrying the given tag.
func (s *SemanticStore) ItemsByTag(tag string) ([]KnowledgeItem, error) {
	items, err := s.listItems(`SELECT id, type, title, content, COALESCE(domain,''), COALESCE(tags,''),
		confidence, COALESCE(source,''), access_count, embedding, created_at, updated_at
		FROM knowledge_items`)
	if err != nil {
		return nil, err
	}
	var matched []KnowledgeItem
	for _, item := range items {
		if contains(item.Tags, tag) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

// ItemsByDomain returns items in the given domain.
func (s *SemanticStore) ItemsByDomain(domain string) ([]KnowledgeItem, error) {
	return s.listItems(`SELECT id, type, title, content, COALESCE(domain,''), COALESCE(tags,''),
		confidence, COALESCE(source,''), access_count, embedding, created_at, updated_at
		FROM knowledge_items WHERE domain = ?`, domain)
}

// Feedback adjusts an item's confidence by ±0.1 and clamps to [0,1].
func (s *SemanticStore) Feedback(id string, success bool) error {
	item, err := s.GetItem(id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("knowledge item %s not found", id)
	}

	delta := 0.1
	if !success {
		delta = -0.1
	}
	confidence := clamp01(item.Confidence + delta)

	_, err = s.db.Exec(`UPDATE knowledge_items SET confidence = ?, updated_at = ? WHERE id = ?`,
		confidence, store.FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update confidence: %w", err)
	}
	return nil
}

// Reinforce records one execution outcome for a condition-action rule.
// A pattern is created only after the configured minimum number of
// reinforcing executions; structurally similar patterns are merged into
// the existing row rather than duplicated.
func (s *SemanticStore) Reinforce(condition, action, domain string, success bool) error {
	// Merge into an existing similar pattern first.
	existing, err := s.findSimilarPattern(condition, action)
	if err != nil {
		return err
	}
	if existing != nil {
		return s.recordOutcome(existing, success)
	}

	s.mu.Lock()
	key := normalizeText(condition) + "|" + normalizeText(action)
	p, ok := s.pending[key]
	if !ok {
		p = &pendingPattern{condition: condition, action: action, domain: domain}
		s.pending[key] = p
	}
	p.total++
	if success {
		p.successes++
	}
	ready := p.total >= s.minReinforcement
	if ready {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ready {
		return nil
	}

	now := time.Now()
	pattern := KnowledgePattern{
		ID:          uuid.New().String(),
		Condition:   p.condition,
		Action:      p.action,
		Domain:      p.domain,
		SuccessRate: float64(p.successes) / float64(p.total),
		UsageCount:  p.total,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = s.db.Exec(`
		INSERT INTO knowledge_patterns (id, condition, action, domain, success_rate, usage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, pattern.ID, pattern.Condition, pattern.Action, store.NullString(pattern.Domain),
		pattern.SuccessRate, pattern.UsageCount, store.FormatTime(now), store.FormatTime(now))
	if err != nil {
		return fmt.Errorf("create pattern: %w", err)
	}
	return nil
}

// recordOutcome folds one outcome into a pattern's running weighted
// average. This is the single mutation path for pattern statistics.
func (s *SemanticStore) recordOutcome(p *KnowledgePattern, success bool) error {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	n := float64(p.UsageCount)
	rate := (p.SuccessRate*n + outcome) / (n + 1)

	_, err := s.db.Exec(`
		UPDATE knowledge_patterns SET success_rate = ?, usage_count = usage_count + 1, updated_at = ?
		WHERE id = ?
	`, rate, store.FormatTime(time.Now()), p.ID)
	if err != nil {
		return fmt.Errorf("update pattern: %w", err)
	}
	return nil
}

// Patterns returns patterns at or above the success-rate threshold,
// optionally filtered by domain, best first.
func (s *SemanticStore) Patterns(minSuccessRate float64, domain string) ([]KnowledgePattern, error) {
	query := `SELECT id, condition, action, COALESCE(domain,''), success_rate, usage_count, created_at, updated_at
		FROM knowledge_patterns WHERE success_rate >= ?`
	args := []any{minSuccessRate}
	if domain != "" {
		query += ` AND domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY success_rate DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []KnowledgePattern
	for rows.Next() {
		var (
			p            KnowledgePattern
			createdAtStr string
			updatedAtStr string
		)
		if err := rows.Scan(&p.ID, &p.Condition, &p.Action, &p.Domain, &p.SuccessRate,
			&p.UsageCount, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		if t, err := store.ParseTime(createdAtStr); err == nil {
			p.CreatedAt = t
		}
		if t, err := store.ParseTime(updatedAtStr); err == nil {
			p.UpdatedAt = t
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// findSimilarPattern returns a stored pattern whose condition and action
// closely match the given rule, or nil.
func (s *SemanticStore) findSimilarPattern(condition, action string) (*KnowledgePattern, error) {
	patterns, err := s.Patterns(0, "")
	if err != nil {
		return nil, err
	}
	for i := range patterns {
		if textSimilarity(patterns[i].Condition, condition) >= 0.8 &&
			textSimilarity(patterns[i].Action, action) >= 0.8 {
			return &patterns[i], nil
		}
	}
	return nil, nil
}

// Consolidate removes zero-access low-confidence items and prunes stale
// unused patterns. Returns items removed and patterns pruned.
func (s *SemanticStore) Consolidate(minPatternUsage int, staleAfter time.Duration) (int64, int64, error) {
	itemsResult, err := s.db.Exec(`
		DELETE FROM knowledge_items WHERE access_count = 0 AND confidence < 0.3
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("consolidate items: %w", err)
	}
	itemsRemoved, _ := itemsResult.RowsAffected()

	cutoff := store.FormatTime(time.Now().Add(-staleAfter))
	patternsResult, err := s.db.Exec(`
		DELETE FROM knowledge_patterns WHERE usage_count < ? AND updated_at < ?
	`, minPatternUsage, cutoff)
	if err != nil {
		return itemsRemoved, 0, fmt.Errorf("prune patterns: %w", err)
	}
	patternsPruned, _ := patternsResult.RowsAffected()

	return itemsRemoved, patternsPruned, nil
}

// listItems runs a query expected to select full item rows.
func (s *SemanticStore) listItems(query string, args ...any) ([]KnowledgeItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []KnowledgeItem
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// scanItem scans one knowledge item row.
func scanItem(scan func(...any) error) (*KnowledgeItem, error) {
	var (
		item         KnowledgeItem
		tags         string
		embedding    []byte
		createdAtStr string
		updatedAtStr string
	)
	err := scan(&item.ID, &item.Type, &item.Title, &item.Content, &item.Domain, &tags,
		&item.Confidence, &item.Source, &item.AccessCount, &embedding, &createdAtStr, &updatedAtStr)
	if err != nil {
		return nil, err
	}
	item.Tags = splitList(tags)
	item.Embedding = decodeVector(embedding)
	if t, err := store.ParseTime(createdAtStr); err == nil {
		item.CreatedAt = t
	}
	if t, err := store.ParseTime(updatedAtStr); err == nil {
		item.UpdatedAt = t
	}
	return &item, nil
}

// normalizeText lowercases and collapses whitespace for comparisons.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// textSimilarity is the Jaccard similarity of the two texts' token sets.
func textSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// tokenSet returns the set of lowercase tokens in a text.
func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}

// clamp01 clamps v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
