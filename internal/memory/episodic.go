// Package memory provides the orchestrator's three memory tiers: an
// episodic interaction log, a semantic knowledge store, and a
// cache-augmented store for expensive computations.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/originflow/conductor/internal/store"
)

// InteractionType tags what kind of interaction an episodic record captures.
type InteractionType string

const (
	// InteractionUserMessage is a message from the submitting user.
	InteractionUserMessage InteractionType = "user_message"
	// InteractionToolCall is one tool invocation and its outcome.
	InteractionToolCall InteractionType = "tool_call"
	// InteractionPlanCreated records a plan being produced for a task.
	InteractionPlanCreated InteractionType = "plan_created"
	// InteractionEpisode is the closing record of a full task execution.
	InteractionEpisode InteractionType = "episode"
	// InteractionHandover records an escalation to a human.
	InteractionHandover InteractionType = "handover"
)

// Record is one interaction within a session.
type Record struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// SessionID groups records into a session.
	SessionID string `json:"session_id"`
	// AgentID identifies the acting agent, if any.
	AgentID string `json:"agent_id,omitempty"`
	// UserID identifies the user, if any.
	UserID string `json:"user_id,omitempty"`
	// TenantID identifies the tenant, if any.
	TenantID string `json:"tenant_id,omitempty"`
	// Type tags the kind of interaction.
	Type InteractionType `json:"type"`
	// Content is the interaction payload.
	Content string `json:"content"`
	// Metadata carries interaction-specific details.
	Metadata map[string]any `json:"metadata,omitempty"`
	// Tags support filtered retrieval.
	Tags []string `json:"tags,omitempty"`
	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary aggregates a session's records. It is updated
// incrementally on every write and finalized when the session closes.
type SessionSummary struct {
	// SessionID is the summarized session.
	SessionID string `json:"session_id"`
	// StartedAt is the time of the first record.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is set when the session is closed.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// InteractionCount is the number of records in the session.
	InteractionCount int `json:"interaction_count"`
	// Agents lists the distinct agents seen in the session.
	Agents []string `json:"agents,omitempty"`
	// Topics lists keywords extracted from record content.
	Topics []string `json:"topics,omitempty"`
	// Closed is true once the session has been explicitly closed.
	Closed bool `json:"closed"`
}

// HistoryFilter narrows episodic retrieval.
type HistoryFilter struct {
	// Types restricts results to the given interaction types.
	Types []InteractionType
	// Tag restricts results to records carrying the tag.
	Tag string
	// Limit caps the number of results. Zero means no cap.
	Limit int
}

// EpisodicStore is the append-only interaction log. Records are never
// updated or deleted except by retention purges.
type EpisodicStore struct {
	db *store.DB
}

// NewEpisodicStore creates an episodic store over the given database.
func NewEpisodicStore(db *store.DB) *EpisodicStore {
	return &EpisodicStore{db: db}
}

// Append writes one record and incrementally updates the session summary.
func (s *EpisodicStore) Append(rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tags := strings.Join(rec.Tags, ",")

	return s.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO episodic_records
				(id, session_id, agent_id, user_id, tenant_id, interaction_type, content, metadata, tags, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.SessionID, store.NullString(rec.AgentID), store.NullString(rec.UserID),
			store.NullString(rec.TenantID), string(rec.Type), rec.Content, string(metadata), tags,
			store.FormatTime(rec.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}

		return s.updateSummaryTx(tx, rec)
	})
}

// updateSummaryTx applies one record to the session summary inside the
// append transaction.
func (s *EpisodicStore) updateSummaryTx(tx *sql.Tx, rec Record) error {
	var (
		count        int
		agentsJoined string
		topicsJoined string
	)
	row := tx.QueryRow(`SELECT interaction_count, COALESCE(agents,''), COALESCE(topics,'')
		FROM session_summaries WHERE session_id = ?`, rec.SessionID)
	err := row.Scan(&count, &agentsJoined, &topicsJoined)

	switch {
	case err == sql.ErrNoRows:
		agents := ""
		if rec.AgentID != "" {
			agents = rec.AgentID
		}
		topics := strings.Join(extractTopics(rec.Content, nil), ",")
		_, err := tx.Exec(`
			INSERT INTO session_summaries (session_id, started_at, interaction_count, agents, topics, closed)
			VALUES (?, ?, 1, ?, ?, 0)
		`, rec.SessionID, store.FormatTime(rec.CreatedAt), agents, topics)
		return err
	case err != nil:
		return fmt.Errorf("load summary: %w", err)
	}

	agents := splitList(agentsJoined)
	if rec.AgentID != "" && !contains(agents, rec.AgentID) {
		agents = append(agents, rec.AgentID)
	}
	topics := extractTopics(rec.Content, splitList(topicsJoined))

	_, err = tx.Exec(`
		UPDATE session_summaries
		SET interaction_count = ?, agents = ?, topics = ?
		WHERE session_id = ?
	`, count+1, strings.Join(agents, ","), strings.Join(topics, ","), rec.SessionID)
	return err
}

// History returns a session's records in chronological order, narrowed by
// the filter.
func (s *EpisodicStore) History(sessionID string, filter HistoryFilter) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, COALESCE(agent_id,''), COALESCE(user_id,''), COALESCE(tenant_id,''),
			interaction_type, content, COALESCE(metadata,''), COALESCE(tags,''), created_at
		FROM episodic_records
		WHERE session_id = ?
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows, filter)
}

// Search scans records across sessions by free-text content match and
// optional tag, most recent first.
func (s *EpisodicStore) Search(query string, filter HistoryFilter) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, COALESCE(agent_id,''), COALESCE(user_id,''), COALESCE(tenant_id,''),
			interaction_type, content, COALESCE(metadata,''), COALESCE(tags,''), created_at
		FROM episodic_records
		WHERE content LIKE ?
		ORDER BY created_at DESC
	`, "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows, filter)
}

// collectRecords scans rows and applies filter narrowing in one pass.
func collectRecords(rows *sql.Rows, filter HistoryFilter) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			rec          Record
			typ          string
			metadata     string
			tags         string
			createdAtStr string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.AgentID, &rec.UserID, &rec.TenantID,
			&typ, &rec.Content, &metadata, &tags, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Type = InteractionType(typ)
		if metadata != "" {
			_ = json.Unmarshal([]byte(metadata), &rec.Metadata)
		}
		rec.Tags = splitList(tags)
		if t, err := store.ParseTime(createdAtStr); err == nil {
			rec.CreatedAt = t
		}

		if len(filter.Types) > 0 && !containsType(filter.Types, rec.Type) {
			continue
		}
		if filter.Tag != "" && !contains(rec.Tags, filter.Tag) {
			continue
		}
		records = append(records, rec)
		if filter.Limit > 0 && len(records) >= filter.Limit {
			break
		}
	}
	return records, rows.Err()
}

// Summary returns the current summary for a session.
func (s *EpisodicStore) Summary(sessionID string) (*SessionSummary, error) {
	row := s.db.QueryRow(`
		SELECT session_id, started_at, ended_at, interaction_count, COALESCE(agents,''), COALESCE(topics,''), closed
		FROM session_summaries WHERE session_id = ?
	`, sessionID)

	var (
		summary      SessionSummary
		startedAtStr string
		endedAt      sql.NullString
		agents       string
		topics       string
		closed       int
	)
	err := row.Scan(&summary.SessionID, &startedAtStr, &endedAt, &summary.InteractionCount,
		&agents, &topics, &closed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}

	if t, err := store.ParseTime(startedAtStr); err == nil {
		summary.StartedAt = t
	}
	if endedAt.Valid {
		if t, err := store.ParseTime(endedAt.String); err == nil {
			summary.EndedAt = &t
		}
	}
	summary.Agents = splitList(agents)
	summary.Topics = splitList(topics)
	summary.Closed = closed == 1
	return &summary, nil
}

// RecentSummaries returns the most recently started sessions, newest
// first.
func (s *EpisodicStore) RecentSummaries(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT session_id FROM session_summaries ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan summary id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		summary, err := s.Summary(id)
		if err != nil {
			return nil, err
		}
		if summary != nil {
			summaries = append(summaries, *summary)
		}
	}
	return summaries, nil
}

// CloseSession finalizes a session's summary. Further appends to the
// session are not prevented, but the summary is marked closed.
func (s *EpisodicStore) CloseSession(sessionID string) (*SessionSummary, error) {
	now := time.Now()
	_, err := s.db.Exec(`
		UPDATE session_summaries SET ended_at = ?, closed = 1 WHERE session_id = ?
	`, store.FormatTime(now), sessionID)
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	return s.Summary(sessionID)
}

// PurgeOlderThan removes records and closed-session summaries older than
// the retention window. Returns the number of records deleted.
func (s *EpisodicStore) PurgeOlderThan(retention time.Duration) (int64, error) {
	cutoff := store.FormatTime(time.Now().Add(-retention))

	result, err := s.db.Exec(`DELETE FROM episodic_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	_, err = s.db.Exec(`DELETE FROM session_summaries WHERE started_at < ?
		AND session_id NOT IN (SELECT DISTINCT session_id FROM episodic_records)`, cutoff)
	if err != nil {
		return count, fmt.Errorf("purge summaries: %w", err)
	}

	return count, nil
}

// RunRetention purges old records on a fixed interval until ctx is done.
func (s *EpisodicStore) RunRetention(done <-chan struct{}, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n, err := s.PurgeOlderThan(retention); err != nil {
				debugLog("retention purge failed: %v", err)
			} else if n > 0 {
				debugLog("retention purged %d episodic records", n)
			}
		}
	}
}

// topicStopwords are excluded from topic extraction.
var topicStopwords = map[string]bool{
	"about": true, "after": true, "before": true, "being": true, "between": true,
	"could": true, "every": true, "should": true, "their": true, "there": true,
	"these": true, "those": true, "through": true, "under": true, "where": true,
	"which": true, "while": true, "would": true, "against": true, "within": true,
}

// extractTopics merges keywords from content into an existing topic list,
// capped at 10 topics per session.
func extractTopics(content string, existing []string) []string {
	topics := append([]string(nil), existing...)
	seen := make(map[string]bool, len(topics))
	for _, t := range topics {
		seen[t] = true
	}

	for _, word := range strings.Fields(strings.ToLower(content)) {
		word = strings.Trim(word, ".,;:!?()[]{}\"'")
		if len(word) < 5 || topicStopwords[word] || seen[word] {
			continue
		}
		topics = append(topics, word)
		seen[word] = true
		if len(topics) >= 10 {
			break
		}
	}
	sort.Strings(topics)
	return topics
}

// splitList splits a comma-joined list, treating empty as nil.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// contains reports whether list includes item.
func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

// containsType reports whether list includes t.
func containsType(list []InteractionType, t InteractionType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
